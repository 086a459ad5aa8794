package client

import (
	"context"
	"net/http"
	"net/url"

	"shopfloor/api/internal/backend"
)

func tablePath(table string) string {
	return "/api/tables/" + url.PathEscape(table)
}

func rowPath(table, id string) string {
	return tablePath(table) + "/" + url.PathEscape(id)
}

func (c *Client) Read(ctx context.Context, table string, q backend.Query) ([]backend.Record, error) {
	var rows []backend.Record
	if err := c.do(ctx, http.MethodGet, tablePath(table), backend.EncodeQuery(q), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Count(ctx context.Context, table string, q backend.Query) (int, error) {
	params := backend.EncodeQuery(q)
	params.Set("count", "1")
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, tablePath(table), params, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) Insert(ctx context.Context, table string, rec backend.Record) (backend.Record, error) {
	var created backend.Record
	if err := c.do(ctx, http.MethodPost, tablePath(table), nil, rec, &created); err != nil {
		return nil, err
	}
	return created, nil
}

func (c *Client) Update(ctx context.Context, table, id string, fields backend.Record) (backend.Record, error) {
	var updated backend.Record
	if err := c.do(ctx, http.MethodPatch, rowPath(table, id), nil, fields, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, rowPath(table, id), nil, nil, nil)
}
