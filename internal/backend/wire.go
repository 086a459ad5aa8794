package backend

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Reserved query parameters. Every other parameter is a column filter
// written as col=op.value.
const (
	paramOrder = "order"
	paramLimit = "limit"
	paramCount = "count"
)

// EncodeQuery renders q as URL parameters: filters as col=eq.value,
// ordering as order=col.asc,col2.desc and limit as limit=n.
func EncodeQuery(q Query) url.Values {
	v := url.Values{}
	for _, f := range q.Filters {
		v.Add(f.Column, string(f.Op)+"."+fmt.Sprint(f.Value))
	}
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		v.Set(paramOrder, strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		v.Set(paramLimit, strconv.Itoa(q.Limit))
	}
	return v
}

// ParseQuery is the inverse of EncodeQuery. Filter values come back as
// strings; columns are validated by the store, not here.
func ParseQuery(v url.Values) (Query, error) {
	var q Query

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case paramOrder:
			for _, part := range strings.Split(v.Get(key), ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				col, dir, _ := strings.Cut(part, ".")
				switch dir {
				case "", "asc":
					q.Order = append(q.Order, Asc(col))
				case "desc":
					q.Order = append(q.Order, Desc(col))
				default:
					return Query{}, fmt.Errorf("invalid order direction %q", dir)
				}
			}
		case paramLimit:
			n, err := strconv.Atoi(v.Get(key))
			if err != nil || n < 0 {
				return Query{}, fmt.Errorf("invalid limit %q", v.Get(key))
			}
			q.Limit = n
		case paramCount:
		default:
			for _, raw := range v[key] {
				op, val, ok := strings.Cut(raw, ".")
				if !ok {
					return Query{}, fmt.Errorf("filter %s: expected op.value", key)
				}
				switch FilterOp(op) {
				case FilterEq, FilterGte:
				default:
					return Query{}, fmt.Errorf("filter %s: unsupported operator %q", key, op)
				}
				q.Filters = append(q.Filters, Filter{Column: key, Op: FilterOp(op), Value: val})
			}
		}
	}
	return q, nil
}
