package ledger

import (
	"time"
)

// MaxHours caps a single grant at one year. Edges enforce it, the ledger only
// enforces the lower bound.
const MaxHours = 8760

const secondsPerHour = 3600

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Record is what the store persists. Everything else is derived.
type Record struct {
	UID    string
	Expiry int64
}

type Entry struct {
	UID            string `json:"uid"`
	Expiry         int64  `json:"expiry"`
	Status         Status `json:"status"`
	RemainingHours int64  `json:"remainingHours"`
	ExpiryDate     string `json:"expiryDate"`
}

type Stats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Expired int64 `json:"expired"`
}

// Derive computes status and remaining time of rec as observed at now.
// A record is active while its expiry is strictly in the future.
func Derive(rec Record, now time.Time) Entry {
	current := now.Unix()

	entry := Entry{
		UID:        rec.UID,
		Expiry:     rec.Expiry,
		Status:     StatusExpired,
		ExpiryDate: time.Unix(rec.Expiry, 0).UTC().Format(time.RFC3339),
	}

	if rec.Expiry > current {
		entry.Status = StatusActive
		entry.RemainingHours = (rec.Expiry - current + secondsPerHour - 1) / secondsPerHour
	}

	return entry
}

func deriveAll(records []Record, now time.Time) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, Derive(rec, now))
	}
	return entries
}
