package model

import (
	"strings"
	"time"
)

// Item is one row of the remote to-do table.
// Id and CreatedAt are assigned by the backend.
type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	IsCompleted bool      `json:"isCompleted"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewItem is the insert payload; the server fills in the rest.
type NewItem struct {
	Name        string `json:"name"`
	IsCompleted bool   `json:"isCompleted"`
}

// ChangeType tags a row-level change pushed by the backend.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ParseChangeType normalizes the tag. Unknown tags come back upper-cased
// and are left to the consumer to ignore.
func ParseChangeType(s string) ChangeType {
	return ChangeType(strings.ToUpper(strings.TrimSpace(s)))
}

// Change is one event from the change-notification stream.
// Record carries the new row (insert/update), OldRecord the prior one (delete).
type Change struct {
	Type      ChangeType
	Record    Item
	OldRecord Item
}
