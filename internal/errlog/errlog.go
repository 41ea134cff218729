// Package errlog classifies and records failures from every other component.
// A Reporter keeps a bounded in-memory log, writes to a log sink, and fans
// out to subscribed listeners. Reporting never panics.
package errlog

import (
	"log"
	"sync"
	"time"
)

// Category identifies where a failure originated.
type Category string

const (
	CategoryNetwork   Category = "NETWORK"
	CategoryAPI       Category = "API"
	CategoryAuth      Category = "AUTH"
	CategoryRateLimit Category = "RATE_LIMIT"
	CategoryCache     Category = "CACHE"
	CategoryRender    Category = "RENDER"
	CategoryConfig    Category = "CONFIG"
)

// Severity ranks how bad a failure is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Entry is one recorded failure.
type Entry struct {
	Time     time.Time
	Message  string
	Category Category
	Severity Severity
	Err      error
	Context  map[string]any
}

// Report carries the classification of a failure being reported.
type Report struct {
	Err      error
	Category Category
	Severity Severity
	Context  map[string]any
}

// Listener receives every entry synchronously. A listener that panics is
// isolated and does not affect other listeners or the reporter.
type Listener func(Entry)

const redacted = "[REDACTED]"

// DefaultCapacity bounds the in-memory log when no capacity is given.
const DefaultCapacity = 100

// Reporter records classified failures. The zero value is not usable; use New.
type Reporter struct {
	mu        sync.Mutex
	entries   []Entry
	capacity  int
	listeners []Listener
	logger    *log.Logger
}

// New creates a Reporter with the given log capacity. A capacity <= 0 falls
// back to DefaultCapacity. A nil logger uses the standard logger.
func New(capacity int, logger *log.Logger) *Reporter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{capacity: capacity, logger: logger}
}

// Subscribe registers a listener invoked for every subsequent report.
func (r *Reporter) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Record reports a failure. The entry is stored in the bounded log, written
// to the log sink and dispatched to listeners. Any context field named
// "token" is redacted before the entry leaves this function.
func (r *Reporter) Record(message string, rep Report) Entry {
	entry := Entry{
		Time:     time.Now(),
		Message:  message,
		Category: rep.Category,
		Severity: rep.Severity,
		Err:      rep.Err,
		Context:  sanitize(rep.Context),
	}
	if entry.Category == "" {
		entry.Category = CategoryAPI
	}
	if entry.Severity == "" {
		entry.Severity = SeverityError
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	r.emit(entry)
	for _, l := range listeners {
		dispatch(l, entry)
	}
	return entry
}

// emit writes the entry to the log sink, shielding callers from a broken sink.
func (r *Reporter) emit(entry Entry) {
	defer func() { _ = recover() }()
	if entry.Err != nil {
		r.logger.Printf("[%s/%s] %s: %v", entry.Severity, entry.Category, entry.Message, entry.Err)
		return
	}
	r.logger.Printf("[%s/%s] %s", entry.Severity, entry.Category, entry.Message)
}

func dispatch(l Listener, entry Entry) {
	defer func() { _ = recover() }()
	l(entry)
}

// Entries returns a copy of the recorded log, oldest first.
func (r *Reporter) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Clear drops all recorded entries.
func (r *Reporter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

func sanitize(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if k == "token" {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}
