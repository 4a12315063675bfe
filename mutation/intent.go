package mutation

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-listings-client/collections"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/pkg/errors"
)

// ErrDiscarded is returned for a response that arrived after its intent had already settled.
var ErrDiscarded = errors.New("mutation result discarded")

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusRolledBack Status = "rolledback"
)

// Op is a synchronous state transition on the collection store.
type Op func(store *collections.Store) error

// Intent describes one optimistic write.
type Intent struct {
	Collection string // Collection holding the target
	TargetID   string // Target resource; intents sharing it are serialized
	Action     string // Activity action recorded on confirmation; empty records nothing
	Actor      string // Profile ID credited in the activity log

	Forward Op // Applied immediately
	Inverse Op // Applied on failure; nil restores the snapshot taken before Forward

	// RemoteWrite performs the backend write against remoteID, the target's
	// backend id. It differs from TargetID once an earlier write on the same
	// target was re-keyed by the backend. A returned resource carries
	// server-computed fields to reconcile onto the entry; nil means nothing to reconcile.
	RemoteWrite func(ctx context.Context, remoteID string) (*remote.Resource, error)
}

func (in Intent) validate() error {
	switch {
	case in.Collection == "":
		return errors.New("[Intent] collection is required")
	case in.TargetID == "":
		return errors.New("[Intent] target id is required")
	case in.Forward == nil:
		return errors.New("[Intent] forward op is required")
	case in.RemoteWrite == nil:
		return errors.New("[Intent] remote write is required")
	}
	return nil
}

// Result describes how an intent settled.
type Result struct {
	IntentID   string
	Status     Status
	ResourceID string           // Final id of the target, after any server re-keying
	Resource   *remote.Resource // Resource returned by the backend, if any
	Discarded  bool             // The store was reset while pending and was left untouched
}

// Pending is the handle returned by Engine.Apply.
type Pending struct {
	id     string
	intent Intent
	status Status
	result Result
	err    error
	done   chan struct{}
	lock   sync.RWMutex
}

func newPending(id string, intent Intent) *Pending {
	return &Pending{
		id:     id,
		intent: intent,
		status: StatusPending,
		done:   make(chan struct{}),
	}
}

func (p *Pending) ID() string {
	return p.id
}

// Intent returns the intent the handle was issued for.
func (p *Pending) Intent() Intent {
	return p.intent
}

// Target returns the collection and id the intent was issued against.
func (p *Pending) Target() (string, string) {
	return p.intent.Collection, p.intent.TargetID
}

func (p *Pending) Status() Status {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.status
}

func (p *Pending) setStatus(s Status) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.status = s
}

// Done is closed once the intent has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the intent settles or ctx ends. Remote failures are
// returned as the backend reported them (remote.ConflictError, remote.RemoteError ...).
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		p.lock.RLock()
		defer p.lock.RUnlock()
		return p.result, p.err
	case <-ctx.Done():
		return Result{IntentID: p.id, Status: p.Status()}, ctx.Err()
	}
}

func (p *Pending) finish(result Result, err error) {
	p.lock.Lock()
	p.result = result
	p.err = err
	p.lock.Unlock()
	close(p.done)
}
