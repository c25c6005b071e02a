// Package supabase talks to a hosted Postgres table the way the Supabase
// client libraries do: rows over the PostgREST HTTP interface and row
// changes over the realtime websocket.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/idilsaglam/livetodo/internal/model"
)

const (
	DefaultSchema = "public"
	DefaultTable  = "TodoList"

	// PostgREST answers with a bare object instead of an array for this type.
	mediaTypeObject = "application/vnd.pgrst.object+json"

	maxErrorBody = 1 << 20
)

type Options struct {
	URL         string // project URL, e.g. https://xyz.supabase.co
	APIKey      string
	AccessToken string // user JWT; the API key is used when empty
	Schema      string
	Table       string

	// OrderByCreated sorts List results by created_at ascending.
	OrderByCreated bool

	HeartbeatInterval time.Duration
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
	Logger            *log.Logger
}

// Client reads and writes one table. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	apiKey    string
	token     string
	schema    string
	table     string
	ordered   bool
	heartbeat time.Duration
	http      *http.Client
	dialer    *websocket.Dialer
	logger    *log.Logger
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return nil, errors.New("supabase: empty URL")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("supabase: parse URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("supabase: unsupported URL scheme %q", base.Scheme)
	}
	c := &Client{
		base:      base,
		apiKey:    opts.APIKey,
		token:     opts.AccessToken,
		schema:    opts.Schema,
		table:     opts.Table,
		ordered:   opts.OrderByCreated,
		heartbeat: opts.HeartbeatInterval,
		http:      opts.HTTPClient,
		dialer:    opts.Dialer,
		logger:    opts.Logger,
	}
	if c.token == "" {
		c.token = c.apiKey
	}
	if c.schema == "" {
		c.schema = DefaultSchema
	}
	if c.table == "" {
		c.table = DefaultTable
	}
	if c.heartbeat <= 0 {
		c.heartbeat = 25 * time.Second
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c, nil
}

func (c *Client) Table() string   { return c.table }
func (c *Client) BaseURL() string { return c.base.String() }

// List returns every row of the table.
func (c *Client) List(ctx context.Context) ([]model.Item, error) {
	q := url.Values{"select": {"*"}}
	if c.ordered {
		q.Set("order", "created_at.asc")
	}
	var items []model.Item
	if err := c.do(ctx, "select", http.MethodGet, q, nil, nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Item{}
	}
	return items, nil
}

// Get returns the row with the given id.
func (c *Client) Get(ctx context.Context, id int64) (model.Item, error) {
	var it model.Item
	err := c.do(ctx, "select", http.MethodGet, idFilter(id),
		nil, http.Header{"Accept": {mediaTypeObject}}, &it)
	return it, err
}

// Insert creates a row and returns it as stored, id and created_at included.
func (c *Client) Insert(ctx context.Context, in model.NewItem) (model.Item, error) {
	var it model.Item
	err := c.do(ctx, "insert", http.MethodPost, url.Values{"select": {"*"}}, in, representation(), &it)
	return it, err
}

// SetCompleted flips the completion flag of one row and returns the result.
func (c *Client) SetCompleted(ctx context.Context, id int64, done bool) (model.Item, error) {
	q := idFilter(id)
	q.Set("select", "*")
	var it model.Item
	err := c.do(ctx, "update", http.MethodPatch, q, map[string]bool{"isCompleted": done}, representation(), &it)
	return it, err
}

// Delete removes the row with the given id. A missing row is not an error.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, "delete", http.MethodDelete, idFilter(id), nil, nil, nil)
}

func idFilter(id int64) url.Values {
	return url.Values{"id": {"eq." + strconv.FormatInt(id, 10)}}
}

func representation() http.Header {
	return http.Header{
		"Prefer": {"return=representation"},
		"Accept": {mediaTypeObject},
	}
}

func (c *Client) do(ctx context.Context, op, method string, q url.Values, body any, hdr http.Header, out any) error {
	u := c.base.JoinPath("rest", "v1", c.table)
	u.RawQuery = q.Encode()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.authorize(req.Header)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.schema != DefaultSchema {
		req.Header.Set("Accept-Profile", c.schema)
		req.Header.Set("Content-Profile", c.schema)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("apikey", c.apiKey)
	}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &RequestError{}
	if err := json.Unmarshal(b, e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(b))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	e.Op = op
	e.Status = resp.StatusCode
	return e
}
