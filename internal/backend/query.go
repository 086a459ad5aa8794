package backend

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

type FilterOp string

const (
	FilterEq  FilterOp = "eq"
	FilterGte FilterOp = "gte"
)

type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

type Order struct {
	Column     string
	Descending bool
}

type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: FilterEq, Value: value}
}

func Gte(column string, value any) Filter {
	return Filter{Column: column, Op: FilterGte, Value: value}
}

func Asc(column string) Order {
	return Order{Column: column}
}

func Desc(column string) Order {
	return Order{Column: column, Descending: true}
}

// Match reports whether rec satisfies every filter in q.
func (q Query) Match(rec Record) bool {
	for _, f := range q.Filters {
		v, ok := rec[f.Column]
		if !ok {
			return false
		}
		c := compare(v, f.Value)
		switch f.Op {
		case FilterEq:
			if c != 0 {
				return false
			}
		case FilterGte:
			if c < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply filters, orders and limits records in memory. The input slice is not
// modified; records are cloned.
func (q Query) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if q.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := compare(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// compare orders two loosely typed column values: numbers numerically, times
// chronologically, everything else as strings. nil sorts first.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb)
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
