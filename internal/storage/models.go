package storage

import "time"

// HistoryEntry records one apply attempt against a catalog item.
type HistoryEntry struct {
	ID        string
	ItemID    string
	FromState string
	ToState   string
	Value     string
	Backend   string
	Error     string // empty on success
	CreatedAt time.Time
}
