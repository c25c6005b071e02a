package supabase

import "fmt"

// RequestError is a non-2xx answer from the REST endpoint. Code, Message,
// Details and Hint come from the PostgREST error body when there is one.
type RequestError struct {
	Op      string `json:"-"`
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unexpected response"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %d %s (%s)", e.Op, e.Status, msg, e.Code)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, msg)
}

// SubscriptionError means the realtime join was refused or the stream ended.
type SubscriptionError struct {
	Topic  string
	Reason string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %s", e.Topic, e.Reason)
}
