package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"shopfloor/api/internal/search"
)

func (c *Client) Search(ctx context.Context, q search.Query) (search.Response, error) {
	params := url.Values{"q": {q.Text}}
	if q.FilterType != "" {
		params.Set("type", string(q.FilterType))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var resp search.Response
	if err := c.do(ctx, http.MethodGet, "/api/search", params, nil, &resp); err != nil {
		return search.Response{}, err
	}
	return resp, nil
}
