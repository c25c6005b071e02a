package devserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/idilsaglam/livetodo/internal/model"
	"github.com/idilsaglam/livetodo/internal/supabase"
)

func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	srv := New(openTestStore(t), Options{APIKey: apiKey, Logger: log.New(io.Discard)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}

func doRequest(t *testing.T, method, url, body string, hdr map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_InsertAndSelect(t *testing.T) {
	ts := newTestServer(t, "")
	rows := ts.URL + "/rest/v1/TodoList"

	resp := doRequest(t, http.MethodPost, rows+"?select=*", `{"name":"buy milk","isCompleted":false}`, map[string]string{
		"Prefer": "return=representation",
		"Accept": mediaTypeObject,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("insert status: %d", resp.StatusCode)
	}
	var created model.Item
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode insert: %v", err)
	}
	if created.ID != 1 || created.Name != "buy milk" || created.CreatedAt.IsZero() {
		t.Fatalf("created: %+v", created)
	}

	// supabase-js style: array body, no representation.
	resp = doRequest(t, http.MethodPost, rows, `[{"name":"walk dog"}]`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("array insert status: %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, rows+"?select=*&order=created_at.asc", "", nil)
	var items []model.Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 2 || items[0].Name != "buy milk" || items[1].Name != "walk dog" {
		t.Fatalf("list: %+v", items)
	}
}

func TestServer_SingleObjectOnMissingRow(t *testing.T) {
	ts := newTestServer(t, "")
	resp := doRequest(t, http.MethodGet, ts.URL+"/rest/v1/TodoList?id=eq.5", "", map[string]string{"Accept": mediaTypeObject})
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var e apiError
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.Code != "PGRST116" {
		t.Fatalf("code: %q", e.Code)
	}
}

func TestServer_DeleteIsIdempotent(t *testing.T) {
	ts := newTestServer(t, "")
	rows := ts.URL + "/rest/v1/TodoList"
	doRequest(t, http.MethodPost, rows, `{"name":"a"}`, nil)

	for i := 0; i < 2; i++ {
		resp := doRequest(t, http.MethodDelete, rows+"?id=eq.1", "", nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("delete #%d status: %d", i+1, resp.StatusCode)
		}
	}
	resp := doRequest(t, http.MethodDelete, rows, "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unfiltered delete status: %d", resp.StatusCode)
	}
}

func TestServer_Rejections(t *testing.T) {
	ts := newTestServer(t, "secret")
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		hdr    map[string]string
		status int
	}{
		{"missing key", http.MethodGet, "/rest/v1/TodoList", "", nil, http.StatusUnauthorized},
		{"unknown table", http.MethodGet, "/rest/v1/Other", "", map[string]string{"apikey": "secret"}, http.StatusNotFound},
		{"unknown schema", http.MethodGet, "/rest/v1/TodoList", "", map[string]string{"apikey": "secret", "Accept-Profile": "private"}, http.StatusNotAcceptable},
		{"bad filter", http.MethodGet, "/rest/v1/TodoList?name=eq.a", "", map[string]string{"apikey": "secret"}, http.StatusBadRequest},
		{"empty name", http.MethodPost, "/rest/v1/TodoList", `{"name":""}`, map[string]string{"apikey": "secret"}, http.StatusBadRequest},
		{"unknown column", http.MethodPatch, "/rest/v1/TodoList?id=eq.1", `{"name":"x"}`, map[string]string{"apikey": "secret"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, tc.method, ts.URL+tc.path, tc.body, tc.hdr)
			if resp.StatusCode != tc.status {
				t.Fatalf("status: got %d want %d", resp.StatusCode, tc.status)
			}
		})
	}
}

func TestServer_FailedBatchInsertIsNotBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := openTestStore(t)
	rejectName(t, store, "boom")
	srv := New(store, Options{Logger: log.New(io.Discard)})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	c, err := supabase.New(supabase.Options{URL: ts.URL, Logger: log.New(io.Discard)})
	if err != nil {
		t.Fatal(err)
	}
	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer ch.Close()

	rows := ts.URL + "/rest/v1/TodoList"
	resp := doRequest(t, http.MethodPost, rows, `[{"name":"a"},{"name":"boom"}]`, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("batch status: %d", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodPost, rows, `{"name":"c"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("insert status: %d", resp.StatusCode)
	}

	// The first change on the stream must be the row that was committed.
	select {
	case change, ok := <-ch.Changes():
		if !ok {
			t.Fatalf("stream closed: %v", ch.Err())
		}
		if change.Type != model.ChangeInsert || change.Record.Name != "c" {
			t.Fatalf("first change: %+v", change)
		}
	case <-ctx.Done():
		t.Fatal("no change received")
	}

	items, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Name != "c" {
		t.Fatalf("rows: %+v", items)
	}
}
