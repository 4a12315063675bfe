package activity

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Entry records one confirmed mutation.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"` // e.g. listing.created, favorite.added
	Actor     string    `json:"actor"`  // Profile ID of the user who issued the mutation
	Target    string    `json:"target"` // collection/id of the mutated resource
	Timestamp time.Time `json:"timestamp"`
}

// Publisher forwards recorded entries somewhere outside the process.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
}

const defaultForwardQueue = 256

// Log is an append-only, newest-first history of confirmed mutations.
type Log struct {
	entries    []Entry // oldest first; read newest first
	publishers []Publisher
	forward    chan Entry // nil without publishers
	queueSize  int
	done       chan struct{}
	closed     bool
	logger     zerolog.Logger
	lock       sync.RWMutex
}

type LogOption func(*Log)

// WithPublisher forwards every recorded entry to p.
func WithPublisher(p Publisher) LogOption {
	return func(l *Log) {
		l.publishers = append(l.publishers, p)
	}
}

// WithForwardQueue sets how many entries may wait for the publishers before
// new ones are dropped from forwarding.
func WithForwardQueue(size int) LogOption {
	return func(l *Log) {
		l.queueSize = size
	}
}

func WithLogger(logger zerolog.Logger) LogOption {
	return func(l *Log) {
		l.logger = logger
	}
}

func New(options ...LogOption) *Log {
	l := &Log{
		queueSize: defaultForwardQueue,
		logger:    log.With().Str("component", "activity").Logger(),
	}
	for _, opt := range options {
		opt(l)
	}
	if len(l.publishers) > 0 {
		if l.queueSize < 1 {
			l.queueSize = 1
		}
		l.forward = make(chan Entry, l.queueSize)
		l.done = make(chan struct{})
		go l.run()
	}
	return l
}

// Record appends entry and queues it for the publishers. It never waits on a
// publisher; a full queue or a closed log skips forwarding, the entry stays recorded.
func (l *Log) Record(entry Entry) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.entries = append(l.entries, entry)
	if l.forward == nil {
		return
	}
	if l.closed {
		l.logger.Debug().Str("entry_id", entry.ID).Msg("Log closed, entry not forwarded")
		return
	}
	select {
	case l.forward <- entry:
	default:
		l.logger.Warn().Str("entry_id", entry.ID).Str("action", entry.Action).Msg("Forward queue full, entry not forwarded")
	}
}

func (l *Log) run() {
	defer close(l.done)
	for entry := range l.forward {
		for _, p := range l.publishers {
			if err := p.Publish(context.Background(), entry); err != nil {
				l.logger.Err(err).Str("entry_id", entry.ID).Str("action", entry.Action).Msg("Failed to forward activity entry")
			}
		}
	}
}

// Close stops forwarding once the queued entries have been handed to the
// publishers. Recording keeps working.
func (l *Log) Close() {
	l.lock.Lock()
	if l.closed || l.forward == nil {
		l.closed = true
		l.lock.Unlock()
		return
	}
	l.closed = true
	close(l.forward)
	l.lock.Unlock()
	<-l.done
}

// Entries returns a copy of the log, newest first.
func (l *Log) Entries() []Entry {
	l.lock.RLock()
	defer l.lock.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// All iterates the log newest first over a snapshot taken at call time.
func (l *Log) All() iter.Seq[Entry] {
	entries := l.Entries()
	return func(yield func(Entry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

func (l *Log) Len() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return len(l.entries)
}
