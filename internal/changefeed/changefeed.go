// Package changefeed registers views for push notifications about a table.
// Any insert, update or delete makes the feed call the view's onChange with
// no payload; the view answers with a full refetch.
package changefeed

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
)

type Feed struct {
	realtime backend.Realtime
	logger   *zap.Logger
}

func New(realtime backend.Realtime, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{realtime: realtime, logger: logger.Named("changefeed")}
}

// Subscription is one view's registration for one table. Views watching the
// same table each hold their own.
type Subscription struct {
	feed     *Feed
	table    string
	handle   backend.Handle
	onChange func()

	mu       sync.Mutex
	idle     *sync.Cond
	released bool
	// running counts in-flight onChange calls per goroutine.
	running map[uint64]int
}

func (f *Feed) Subscribe(table string, onChange func()) (*Subscription, error) {
	if onChange == nil {
		return nil, errors.New("changefeed: nil onChange")
	}
	sub := &Subscription{feed: f, table: table, onChange: onChange, running: make(map[uint64]int)}
	sub.idle = sync.NewCond(&sub.mu)
	handle, err := f.realtime.Subscribe(table, sub.dispatch)
	if err != nil {
		return nil, err
	}
	sub.mu.Lock()
	sub.handle = handle
	sub.mu.Unlock()
	f.logger.Debug("subscribed", zap.String("table", table), zap.String("handle", string(handle)))
	return sub, nil
}

func (s *Subscription) dispatch(ev backend.ChangeEvent) {
	gid := goroutineID()
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.running[gid]++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.running[gid]--; s.running[gid] == 0 {
			delete(s.running, gid)
		}
		s.idle.Broadcast()
		s.mu.Unlock()
	}()
	s.onChange()
}

// Release unregisters the subscription and waits for onChange calls already
// running on other goroutines, so no callback runs after it returns. Called
// from inside onChange it does not wait for that call. Only the first call
// has an effect.
func (s *Subscription) Release() {
	gid := goroutineID()
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	handle := s.handle
	for s.runningElsewhere(gid) {
		s.idle.Wait()
	}
	s.mu.Unlock()

	s.feed.realtime.Unsubscribe(handle)
	s.feed.logger.Debug("released", zap.String("table", s.table), zap.String("handle", string(handle)))
}

// runningElsewhere reports an onChange call on a goroutine other than gid.
// Must hold s.mu.
func (s *Subscription) runningElsewhere(gid uint64) bool {
	for g := range s.running {
		if g != gid {
			return true
		}
	}
	return false
}

// goroutineID parses the id out of the "goroutine N [status]:" stack header.
func goroutineID() uint64 {
	var buf [64]byte
	header := buf[:runtime.Stack(buf[:], false)]
	header = bytes.TrimPrefix(header, []byte("goroutine "))
	if i := bytes.IndexByte(header, ' '); i > 0 {
		header = header[:i]
	}
	id, _ := strconv.ParseUint(string(header), 10, 64)
	return id
}

func (s *Subscription) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Subscription) Table() string {
	return s.table
}
