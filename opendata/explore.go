// Package opendata is a small client for the Opendatasoft Explore API v2.1,
// which serves the SIRENE mirrors of Opendatasoft and Huwise and the BODACC
// announcements.
package opendata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Tpgainz/companyatlas/backend"
)

const MaxLimit = 100

type Query struct {
	Where   string
	Q       string
	Refine  []string
	OrderBy string
	Limit   int
	Offset  int
	Lang    string
}

type Response struct {
	TotalCount int           `json:"total_count"`
	Results    []backend.Raw `json:"results"`
}

type Client struct {
	http    *backend.HTTPClient
	baseURL string
	apiKey  string
}

func NewClient(httpClient *backend.HTTPClient, baseURL, apiKey string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (c *Client) RecordsURL(dataset string, q Query) string {
	params := url.Values{}

	if q.Where != "" {
		params.Set("where", q.Where)
	}

	if q.Q != "" {
		params.Set("q", q.Q)
	}

	for _, refine := range q.Refine {
		params.Add("refine", refine)
	}

	if q.OrderBy != "" {
		params.Set("order_by", q.OrderBy)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	params.Set("limit", strconv.Itoa(min(limit, MaxLimit)))

	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	if q.Lang != "" {
		params.Set("lang", q.Lang)
		params.Set("timezone", "Europe/Paris")
	}

	return fmt.Sprintf("%s/catalog/datasets/%s/records?%s", c.baseURL, url.PathEscape(dataset), params.Encode())
}

func (c *Client) Records(ctx context.Context, dataset string, q Query) (*Response, error) {
	var resp Response
	if err := c.Fetch(ctx, dataset, q, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Fetch decodes the records response into out, for datasets read into typed
// structs. An unknown dataset leaves out untouched.
func (c *Client) Fetch(ctx context.Context, dataset string, q Query, out any) error {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Apikey " + c.apiKey
	}

	_, err := c.http.GetJSON(ctx, c.RecordsURL(dataset, q), headers, out)

	return err
}

// Quote escapes a value for an ODSQL string literal.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
