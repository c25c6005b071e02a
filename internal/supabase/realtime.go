package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/idilsaglam/livetodo/internal/model"
)

const (
	realtimeVersion = "1.0.0"
	writeWait       = 10 * time.Second
	// Close runs on the UI goroutine; leaving must not hold up quitting.
	closeWait = time.Second
)

// Channel is an acknowledged subscription to the row changes of one table.
type Channel struct {
	conn    *websocket.Conn
	topic   string
	joinRef string
	logger  *log.Logger

	changes chan model.Change
	done    chan struct{}

	refs      atomic.Int64
	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Subscribe joins the table's realtime channel and returns once the server
// acknowledged the join. ctx bounds the handshake only.
func (c *Client) Subscribe(ctx context.Context) (*Channel, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	wsURL := u.JoinPath("realtime", "v1", "websocket")
	q := wsURL.Query()
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	q.Set("vsn", realtimeVersion)
	wsURL.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	ch := &Channel{
		conn:    conn,
		topic:   Topic(c.schema, c.table),
		logger:  c.logger,
		changes: make(chan model.Change, 64),
		done:    make(chan struct{}),
	}
	ch.joinRef = ch.nextRef()

	join := JoinPayload{
		Config: JoinConfig{
			PostgresChanges: []ChangesFilter{{Event: "*", Schema: c.schema, Table: c.table}},
		},
		AccessToken: c.token,
	}
	if err := ch.send(ch.topic, EventJoin, join, ch.joinRef, ch.joinRef); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join %s: %w", ch.topic, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err = ch.awaitJoin()
	if !stop() {
		_ = conn.Close()
		return nil, fmt.Errorf("join %s: %w", ch.topic, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	go ch.readLoop()
	go ch.heartbeatLoop(c.heartbeat)
	return ch, nil
}

// Changes delivers row changes until the stream ends or Close is called.
func (ch *Channel) Changes() <-chan model.Change { return ch.changes }

// Err reports why the stream ended; nil while open or after Close.
func (ch *Channel) Err() error {
	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	return ch.err
}

// Close leaves the channel and closes the socket. Calling it again is a no-op.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		close(ch.done)
		deadline := time.Now().Add(closeWait)
		// A writer stuck on a stalled socket holds the lock; skip the leave then.
		if ch.writeMu.TryLock() {
			_ = ch.write(deadline, ch.topic, EventLeave, struct{}{}, ch.nextRef(), ch.joinRef)
			ch.writeMu.Unlock()
		}
		_ = ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline)
		_ = ch.conn.Close()
	})
	return nil
}

func (ch *Channel) awaitJoin() error {
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("join %s: %w", ch.topic, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.logger.Warn("realtime: bad frame", "err", err)
			continue
		}
		if msg.Event != EventReply || msg.Ref != ch.joinRef {
			continue
		}
		var reply ReplyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("join %s: decode reply: %w", ch.topic, err)
		}
		if reply.Status == StatusOK {
			return nil
		}
		var resp JoinResponse
		_ = json.Unmarshal(reply.Response, &resp)
		reason := resp.Reason
		if reason == "" {
			reason = "join refused with status " + strconv.Quote(reply.Status)
		}
		return &SubscriptionError{Topic: ch.topic, Reason: reason}
	}
}

func (ch *Channel) readLoop() {
	defer close(ch.changes)
	defer ch.conn.Close()
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if !ch.closed() {
				ch.setErr(fmt.Errorf("read %s: %w", ch.topic, err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.logger.Warn("realtime: bad frame", "err", err)
			continue
		}
		switch msg.Event {
		case EventChanges:
			change, err := DecodeChange(msg.Payload)
			if err != nil {
				ch.logger.Warn("realtime: bad change payload", "err", err)
				continue
			}
			select {
			case ch.changes <- change:
			case <-ch.done:
				return
			}
		case EventError, EventClose:
			if msg.Topic != ch.topic || ch.closed() {
				continue
			}
			ch.setErr(&SubscriptionError{Topic: ch.topic, Reason: "server sent " + msg.Event})
			return
		case EventReply:
			var reply ReplyPayload
			if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status != StatusOK {
				ch.logger.Warn("realtime: error reply", "topic", msg.Topic, "ref", msg.Ref, "status", reply.Status)
			}
		}
	}
}

func (ch *Channel) heartbeatLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ch.done:
			return
		case <-t.C:
			if err := ch.send(TopicPhoenix, EventHeartbeat, struct{}{}, ch.nextRef(), ""); err != nil {
				if !ch.closed() {
					ch.logger.Warn("realtime: heartbeat failed", "err", err)
				}
				return
			}
		}
	}
}

func (ch *Channel) send(topic, event string, payload any, ref, joinRef string) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.write(time.Now().Add(writeWait), topic, event, payload, ref, joinRef)
}

// write requires writeMu.
func (ch *Channel) write(deadline time.Time, topic, event string, payload any, ref, joinRef string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := Message{Topic: topic, Event: event, Payload: raw, Ref: ref, JoinRef: joinRef}
	_ = ch.conn.SetWriteDeadline(deadline)
	return ch.conn.WriteJSON(msg)
}

func (ch *Channel) nextRef() string {
	return strconv.FormatInt(ch.refs.Add(1), 10)
}

func (ch *Channel) closed() bool {
	select {
	case <-ch.done:
		return true
	default:
		return false
	}
}

func (ch *Channel) setErr(err error) {
	ch.errMu.Lock()
	ch.err = err
	ch.errMu.Unlock()
}

// DecodeChange turns a postgres_changes payload into a model.Change.
func DecodeChange(payload json.RawMessage) (model.Change, error) {
	var p ChangesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.Change{}, fmt.Errorf("decode change: %w", err)
	}
	c := model.Change{Type: model.ParseChangeType(p.Data.Type)}
	if err := decodeRow(p.Data.Record, &c.Record); err != nil {
		return model.Change{}, fmt.Errorf("decode record: %w", err)
	}
	if err := decodeRow(p.Data.OldRecord, &c.OldRecord); err != nil {
		return model.Change{}, fmt.Errorf("decode old_record: %w", err)
	}
	return c, nil
}

// EncodeChange builds the postgres_changes payload for one row change.
func EncodeChange(schema, table string, ids []int64, c model.Change, at time.Time) (json.RawMessage, error) {
	data := ChangeData{
		Type:            string(c.Type),
		Schema:          schema,
		Table:           table,
		CommitTimestamp: at.UTC().Format(time.RFC3339Nano),
	}
	var err error
	if c.Type != model.ChangeDelete {
		if data.Record, err = json.Marshal(c.Record); err != nil {
			return nil, err
		}
	}
	if c.Type == model.ChangeDelete || c.Type == model.ChangeUpdate {
		if data.OldRecord, err = json.Marshal(c.OldRecord); err != nil {
			return nil, err
		}
	}
	return json.Marshal(ChangesPayload{IDs: ids, Data: data})
}

var nullJSON = []byte("null")

func decodeRow(raw json.RawMessage, into *model.Item) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, nullJSON) {
		return nil
	}
	return json.Unmarshal(raw, into)
}
