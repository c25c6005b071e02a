package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/idilsaglam/livetodo/internal/model"
	"github.com/idilsaglam/livetodo/internal/supabase"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		// Same-origin only; non-browser clients send no Origin.
		return strings.Contains(origin, "://"+strings.TrimSpace(r.Host))
	},
}

// hub fans row changes out to every joined realtime channel.
type hub struct {
	schema string
	table  string
	logger *log.Logger

	filterIDs atomic.Int64

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

type wsConn struct {
	id     string
	conn   *websocket.Conn
	send   chan supabase.Message
	done   chan struct{}
	once   sync.Once
	logger *log.Logger

	mu    sync.Mutex
	joins map[string]joined // by topic
}

type joined struct {
	joinRef string
	filters []supabase.ChangesFilter
}

func newHub(schema, table string, logger *log.Logger) *hub {
	return &hub{
		schema: schema,
		table:  table,
		logger: logger,
		conns:  make(map[*wsConn]struct{}),
	}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &wsConn{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan supabase.Message, sendBuffer),
		done:  make(chan struct{}),
		joins: make(map[string]joined),
	}
	c.logger = h.logger.With("conn", c.id)
	h.add(c)
	defer h.remove(c)

	c.logger.Info("realtime connected")
	go c.writeLoop()
	h.readLoop(c)
	c.logger.Info("realtime disconnected")
}

func (h *hub) readLoop(c *wsConn) {
	defer c.close()
	for {
		var msg supabase.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case supabase.EventHeartbeat:
			c.reply(msg, supabase.StatusOK, struct{}{})
		case supabase.EventJoin:
			h.join(c, msg)
		case supabase.EventLeave:
			c.mu.Lock()
			delete(c.joins, msg.Topic)
			c.mu.Unlock()
			c.reply(msg, supabase.StatusOK, struct{}{})
		default:
			c.reply(msg, supabase.StatusError, supabase.JoinResponse{Reason: "unknown event " + msg.Event})
		}
	}
}

func (h *hub) join(c *wsConn, msg supabase.Message) {
	if !strings.HasPrefix(msg.Topic, "realtime:") {
		c.reply(msg, supabase.StatusError, supabase.JoinResponse{Reason: "invalid topic"})
		return
	}
	var p supabase.JoinPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.reply(msg, supabase.StatusError, supabase.JoinResponse{Reason: "invalid join payload"})
		return
	}
	accepted := make([]supabase.ChangesFilter, 0, len(p.Config.PostgresChanges))
	for _, f := range p.Config.PostgresChanges {
		if f.Schema != h.schema || (f.Table != "" && f.Table != h.table) || !validEvent(f.Event) {
			c.reply(msg, supabase.StatusError, supabase.JoinResponse{
				Reason: "Unable to subscribe to changes with given parameters",
			})
			return
		}
		f.ID = h.filterIDs.Add(1)
		accepted = append(accepted, f)
	}

	c.mu.Lock()
	c.joins[msg.Topic] = joined{joinRef: msg.JoinRef, filters: accepted}
	c.mu.Unlock()
	c.logger.Info("joined", "topic", msg.Topic, "filters", len(accepted))
	c.reply(msg, supabase.StatusOK, supabase.JoinResponse{PostgresChanges: accepted})
}

func validEvent(e string) bool {
	switch strings.ToUpper(e) {
	case "*", string(model.ChangeInsert), string(model.ChangeUpdate), string(model.ChangeDelete):
		return true
	}
	return false
}

// broadcast queues change for every channel whose filters match it.
func (h *hub) broadcast(change model.Change) {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	now := time.Now()
	for _, c := range conns {
		c.mu.Lock()
		var out []supabase.Message
		for topic, j := range c.joins {
			var ids []int64
			for _, f := range j.filters {
				if f.Event == "*" || strings.EqualFold(f.Event, string(change.Type)) {
					ids = append(ids, f.ID)
				}
			}
			if len(ids) == 0 {
				continue
			}
			payload, err := supabase.EncodeChange(h.schema, h.table, ids, change, now)
			if err != nil {
				c.logger.Error("encode change", "err", err)
				continue
			}
			out = append(out, supabase.Message{Topic: topic, Event: supabase.EventChanges, Payload: payload, JoinRef: j.joinRef})
		}
		c.mu.Unlock()
		for _, m := range out {
			c.enqueue(m)
		}
	}
}

func (h *hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (c *wsConn) reply(to supabase.Message, status string, response any) {
	resp, err := json.Marshal(response)
	if err != nil {
		c.logger.Error("encode reply", "err", err)
		return
	}
	payload, err := json.Marshal(supabase.ReplyPayload{Status: status, Response: resp})
	if err != nil {
		c.logger.Error("encode reply", "err", err)
		return
	}
	c.enqueue(supabase.Message{
		Topic:   to.Topic,
		Event:   supabase.EventReply,
		Payload: payload,
		Ref:     to.Ref,
		JoinRef: to.JoinRef,
	})
}

// enqueue never blocks; a client that cannot keep up is disconnected.
func (c *wsConn) enqueue(m supabase.Message) {
	select {
	case <-c.done:
	case c.send <- m:
	default:
		c.logger.Warn("slow realtime client, disconnecting")
		c.close()
	}
}

func (c *wsConn) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
