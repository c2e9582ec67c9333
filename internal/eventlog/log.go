// Package eventlog keeps the operator-facing record of a dispatch run.
//
// The log is a bounded, newest-first list of at most Capacity entries.
// Every Append persists the whole bounded list so an external viewer
// (CLI `logs`, another process) can read it back.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bulksend/internal/storage"
	logx "bulksend/pkg/logx"
)

// Capacity is the maximum number of retained entries.
const Capacity = 100

// StoreKey is the storage key holding the persisted list.
const StoreKey = "mass_send_logs"

type Kind string

const (
	KindInfo        Kind = "info"
	KindTaskResult  Kind = "task_result"
	KindPauseWindow Kind = "pause_window"
	KindError       Kind = "error"
)

type Entry struct {
	ID              string    `json:"id"`
	Time            time.Time `json:"timestamp"`
	Kind            Kind      `json:"kind"`
	RunID           string    `json:"run_id,omitempty"`
	Recipient       string    `json:"recipient,omitempty"`
	ProfileID       string    `json:"profile_id,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	PauseEndsAt     time.Time `json:"pause_ends_at,omitzero"`
	AutoRest        bool      `json:"auto_rest,omitempty"`
	Text            string    `json:"text"`
}

func (e Entry) String() string {
	var b []byte
	b = e.Time.AppendFormat(b, "15:04:05")
	s := fmt.Sprintf("%s %-12s %s", b, e.Kind, e.Text)
	if e.Recipient != "" || e.ProfileID != "" {
		s += fmt.Sprintf(" [%s via %s]", e.Recipient, e.ProfileID)
	}
	if e.DurationSeconds > 0 {
		s += fmt.Sprintf(" (%.1fs)", e.DurationSeconds)
	}
	if !e.PauseEndsAt.IsZero() {
		s += " until " + e.PauseEndsAt.Format("15:04:05")
	}
	return s
}

// Log is a fixed-size ring buffer. buf[head] is the newest entry.
type Log struct {
	mu   sync.Mutex
	buf  [Capacity]Entry
	head int
	size int

	// seq orders snapshots so a slow writer never overwrites a newer list.
	seq       uint64
	persistMu sync.Mutex
	persisted uint64

	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

// New returns an empty log persisted to store (nil store keeps it in memory only).
func New(store storage.Store, log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{store: store, log: log, now: time.Now}
}

// Load replaces the in-memory contents with the persisted list.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	raw, ok, err := l.store.Get(ctx, StoreKey)
	if err != nil {
		return fmt.Errorf("load event log: %w", err)
	}
	if !ok {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decode event log: %w", err)
	}
	if len(entries) > Capacity {
		entries = entries[:Capacity]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.head, l.size = 0, 0
	// entries are newest-first; push oldest first.
	for i := len(entries) - 1; i >= 0; i-- {
		l.pushLocked(entries[i])
	}
	return nil
}

// Append pushes e to the front, evicting the oldest entry when full, then
// persists the bounded list. ID and Time are filled in when empty.
// Persistence failures are logged, never returned to the dispatch loop.
func (l *Log) Append(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = l.now()
	}

	l.mu.Lock()
	l.pushLocked(e)
	l.seq++
	seq := l.seq
	snapshot := l.entriesLocked()
	l.mu.Unlock()

	l.persist(ctx, seq, snapshot)
	return e
}

// Clear empties the log and removes the persisted copy.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.buf = [Capacity]Entry{}
	l.head, l.size = 0, 0
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	l.persisted = seq
	return l.store.Delete(ctx, StoreKey)
}

// Entries returns a newest-first copy.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entriesLocked()
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *Log) pushLocked(e Entry) {
	l.head = (l.head - 1 + Capacity) % Capacity
	l.buf[l.head] = e
	if l.size < Capacity {
		l.size++
	}
}

func (l *Log) entriesLocked() []Entry {
	out := make([]Entry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.head+i)%Capacity]
	}
	return out
}

func (l *Log) persist(ctx context.Context, seq uint64, entries []Entry) {
	if l.store == nil {
		return
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if seq <= l.persisted {
		return
	}
	l.persisted = seq
	b, err := json.Marshal(entries)
	if err != nil {
		l.log.Warn("event log encode failed", logx.Err(err))
		return
	}
	// The write must land even when the run was just cancelled.
	if err := l.store.Put(context.WithoutCancel(ctx), StoreKey, b); err != nil {
		l.log.Warn("event log persist failed", logx.Err(err), logx.Int("entries", len(entries)))
	}
}

// Read returns the persisted newest-first list for a viewer.
func Read(ctx context.Context, store storage.Store) ([]Entry, error) {
	l := New(store, logx.Nop())
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l.Entries(), nil
}
