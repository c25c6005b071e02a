// Package devserver runs a local stand-in for the hosted backend: the
// PostgREST subset the client uses under /rest/v1 and the realtime channel
// under /realtime/v1/websocket, both backed by a sqlite table.
package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/idilsaglam/livetodo/internal/model"
)

const mediaTypeObject = "application/vnd.pgrst.object+json"

type Options struct {
	APIKey string // required from clients when set
	Schema string
	Logger *log.Logger
}

type Server struct {
	store  *Store
	schema string
	apiKey string
	logger *log.Logger
	hub    *hub
	router *mux.Router
}

func New(store *Store, opts Options) *Server {
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &Server{
		store:  store,
		schema: opts.Schema,
		apiKey: opts.APIKey,
		logger: opts.Logger,
	}
	s.hub = newHub(opts.Schema, store.Table(), opts.Logger)

	r := mux.NewRouter()
	r.Use(s.logRequests, s.requireAPIKey)
	r.Methods(http.MethodGet).Path("/rest/v1/{table}").HandlerFunc(s.handleSelect)
	r.Methods(http.MethodPost).Path("/rest/v1/{table}").HandlerFunc(s.handleInsert)
	r.Methods(http.MethodPatch).Path("/rest/v1/{table}").HandlerFunc(s.handleUpdate)
	r.Methods(http.MethodDelete).Path("/rest/v1/{table}").HandlerFunc(s.handleDelete)
	r.Methods(http.MethodGet).Path("/realtime/v1/websocket").HandlerFunc(s.hub.serveWS)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving", "addr", addr, "table", s.store.Table())
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		wg.Wait()
		return nil
	}
	return err
}

// Close drops every realtime connection.
func (s *Server) Close() { s.hub.closeAll() }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info("handled", "method", r.Method, "path", r.URL.Path, "status", m.Code, "duration", m.Duration)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("apikey")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if key != s.apiKey {
			writeError(w, http.StatusUnauthorized, apiError{Message: "Invalid API key", Hint: "Double check your apikey value."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func writeError(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// request holds what the handlers read from a PostgREST-style request.
type request struct {
	id       *int64
	ordered  bool
	single   bool
	returnIt bool
}

func (s *Server) parse(w http.ResponseWriter, r *http.Request) (request, bool) {
	var req request
	if t := mux.Vars(r)["table"]; t != s.store.Table() {
		writeError(w, http.StatusNotFound, apiError{
			Code:    "42P01",
			Message: fmt.Sprintf("relation %q does not exist", s.schema+"."+t),
		})
		return req, false
	}
	for _, h := range []string{"Accept-Profile", "Content-Profile"} {
		if p := r.Header.Get(h); p != "" && p != s.schema {
			writeError(w, http.StatusNotAcceptable, apiError{
				Code:    "PGRST106",
				Message: "The schema must be one of the following: " + s.schema,
			})
			return req, false
		}
	}
	for key, vals := range r.URL.Query() {
		v := vals[0]
		switch key {
		case "select", "apikey":
		case "order":
			if v != "created_at.asc" {
				writeError(w, http.StatusBadRequest, apiError{Code: "PGRST100", Message: "unsupported order " + strconv.Quote(v)})
				return req, false
			}
			req.ordered = true
		case "id":
			n, err := strconv.ParseInt(strings.TrimPrefix(v, "eq."), 10, 64)
			if !strings.HasPrefix(v, "eq.") || err != nil {
				writeError(w, http.StatusBadRequest, apiError{Code: "PGRST100", Message: "unsupported filter id=" + v})
				return req, false
			}
			req.id = &n
		default:
			writeError(w, http.StatusBadRequest, apiError{Code: "PGRST100", Message: "unsupported query parameter " + strconv.Quote(key)})
			return req, false
		}
	}
	req.single = strings.Contains(r.Header.Get("Accept"), mediaTypeObject)
	req.returnIt = strings.Contains(r.Header.Get("Prefer"), "return=representation")
	return req, true
}

// respond writes rows as an array, or as a single object when asked for one.
func respond(w http.ResponseWriter, status int, req request, rows []model.Item) {
	if !req.single {
		writeJSON(w, status, rows)
		return
	}
	if len(rows) != 1 {
		writeError(w, http.StatusNotAcceptable, apiError{
			Code:    "PGRST116",
			Message: "JSON object requested, multiple (or no) rows returned",
			Details: fmt.Sprintf("The result contains %d rows", len(rows)),
		})
		return
	}
	writeJSON(w, status, rows[0])
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parse(w, r)
	if !ok {
		return
	}
	if req.id != nil {
		it, found, err := s.store.Get(r.Context(), *req.id)
		if err != nil {
			s.internalError(w, err)
			return
		}
		rows := []model.Item{}
		if found {
			rows = append(rows, it)
		}
		respond(w, http.StatusOK, req, rows)
		return
	}
	items, err := s.store.List(r.Context(), req.ordered)
	if err != nil {
		s.internalError(w, err)
		return
	}
	respond(w, http.StatusOK, req, items)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parse(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: "PGRST102", Message: "Empty or invalid json"})
		return
	}
	var rows []model.NewItem
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &rows)
	} else {
		var one model.NewItem
		err = json.Unmarshal(body, &one)
		rows = append(rows, one)
	}
	if err != nil || len(rows) == 0 {
		writeError(w, http.StatusBadRequest, apiError{Code: "PGRST102", Message: "Empty or invalid json"})
		return
	}
	for _, in := range rows {
		if in.Name == "" {
			writeError(w, http.StatusBadRequest, apiError{
				Code:    "23502",
				Message: `null value in column "name" violates not-null constraint`,
			})
			return
		}
	}

	created, err := s.store.InsertAll(r.Context(), rows)
	if err != nil {
		s.internalError(w, err)
		return
	}
	for _, it := range created {
		s.hub.broadcast(model.Change{Type: model.ChangeInsert, Record: it})
	}
	if !req.returnIt {
		w.WriteHeader(http.StatusCreated)
		return
	}
	respond(w, http.StatusCreated, req, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parse(w, r)
	if !ok {
		return
	}
	if req.id == nil {
		writeError(w, http.StatusBadRequest, apiError{Code: "21000", Message: "UPDATE requires a WHERE clause"})
		return
	}
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: "PGRST102", Message: "Empty or invalid json"})
		return
	}
	var done bool
	for col, raw := range patch {
		if col != "isCompleted" {
			writeError(w, http.StatusBadRequest, apiError{
				Code:    "PGRST204",
				Message: fmt.Sprintf("Could not find the '%s' column of '%s' in the schema cache", col, s.store.Table()),
			})
			return
		}
		if err := json.Unmarshal(raw, &done); err != nil {
			writeError(w, http.StatusBadRequest, apiError{Code: "22P02", Message: "invalid input syntax for type boolean"})
			return
		}
	}

	before, after, found, err := s.store.SetCompleted(r.Context(), *req.id, done)
	if err != nil {
		s.internalError(w, err)
		return
	}
	rows := []model.Item{}
	if found {
		rows = append(rows, after)
		s.hub.broadcast(model.Change{Type: model.ChangeUpdate, Record: after, OldRecord: before})
	}
	if !req.returnIt {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respond(w, http.StatusOK, req, rows)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parse(w, r)
	if !ok {
		return
	}
	if req.id == nil {
		writeError(w, http.StatusBadRequest, apiError{Code: "21000", Message: "DELETE requires a WHERE clause"})
		return
	}
	old, found, err := s.store.Delete(r.Context(), *req.id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	rows := []model.Item{}
	if found {
		rows = append(rows, old)
		s.hub.broadcast(model.Change{Type: model.ChangeDelete, OldRecord: old})
	}
	if !req.returnIt {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respond(w, http.StatusOK, req, rows)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "err", err)
	writeError(w, http.StatusInternalServerError, apiError{Message: err.Error()})
}
