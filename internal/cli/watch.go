package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// watchUntilInterrupted calls render for every signal on updates until ctx
// ends or the user interrupts.
func watchUntilInterrupted(ctx context.Context, updates <-chan struct{}, render func() error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			if err := render(); err != nil {
				return err
			}
		}
	}
}

// signalOnUpdate adapts an OnUpdate callback to a coalescing channel.
func signalOnUpdate[T any](subscribe func(func(T)) func()) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	cancel := subscribe(func(T) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch, cancel
}
