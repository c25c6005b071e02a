package supabase

import "encoding/json"

// Phoenix channel events used by the realtime endpoint.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"
	EventChanges   = "postgres_changes"

	TopicPhoenix = "phoenix"

	StatusOK    = "ok"
	StatusError = "error"
)

// Message is one websocket frame of the realtime protocol.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type JoinPayload struct {
	Config      JoinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type JoinConfig struct {
	Broadcast       BroadcastConfig `json:"broadcast"`
	Presence        PresenceConfig  `json:"presence"`
	PostgresChanges []ChangesFilter `json:"postgres_changes"`
}

type BroadcastConfig struct {
	Self bool `json:"self"`
	Ack  bool `json:"ack"`
}

type PresenceConfig struct {
	Key string `json:"key"`
}

// ChangesFilter selects row changes; Event is "*" or one of INSERT/UPDATE/DELETE.
type ChangesFilter struct {
	ID     int64  `json:"id,omitempty"`
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type JoinResponse struct {
	PostgresChanges []ChangesFilter `json:"postgres_changes,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

type ChangesPayload struct {
	IDs  []int64    `json:"ids"`
	Data ChangeData `json:"data"`
}

// ChangeData is the row-level event body. Record and OldRecord stay raw so
// callers decode them into their own row type.
type ChangeData struct {
	Type            string          `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	Errors          []string        `json:"errors"`
}

// Topic names the channel for a table.
func Topic(schema, table string) string {
	return "realtime:" + schema + ":" + table
}
