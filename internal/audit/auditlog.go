// Package audit keeps a hash-chained log of security-relevant events:
// setup, failed logins, passkey enrollments, counter regressions. Each
// entry's hash covers the previous entry, so silent tampering with the
// history breaks the chain.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type Entry struct {
	TS    int64  `json:"ts"`
	Event string `json:"event"`
	Hash  string `json:"hash"`
}

type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
}

func New() *Log { return &Log{} }

// Record appends an event to the chain. The format string must not carry
// secret material; entries are readable by anyone with log access.
func (l *Log) Record(format string, args ...any) Entry {
	event := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	h := sha256.New()
	h.Write(l.lastHash)
	h.Write([]byte(event))
	sum := h.Sum(nil)
	l.lastHash = sum

	e := Entry{TS: time.Now().Unix(), Event: event, Hash: hex.EncodeToString(sum)}
	l.entries = append(l.entries, e)
	return e
}

// Verify recomputes the chain and reports the first break.
func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var prev []byte
	for i, e := range l.entries {
		h := sha256.New()
		h.Write(prev)
		h.Write([]byte(e.Event))
		sum := h.Sum(nil)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("audit: chain broken at entry %d", i)
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
