package mutation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-listings-client/activity"
	"github.com/jrsteele09/go-listings-client/collections"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Recorder receives an entry for every confirmed mutation.
type Recorder interface {
	Record(entry activity.Entry)
}

type key struct {
	collection string
	id         string
}

// tracked is the engine's view of one issued intent.
type tracked struct {
	intent     Intent
	key        key
	ctx        context.Context
	generation uint64
	snapshot   collections.Entry // target state just before Forward ran
	pending    *Pending
}

// queue serializes the intents of one resource. items[0] is the one whose
// remote write is in flight.
type queue struct {
	items    []*tracked
	deferred *activity.Entry // confirmed but superseded by a later intent
	remoteID string          // backend id of the target, passed to RemoteWrite
}

// Engine applies intents optimistically and settles them against the backend.
type Engine struct {
	store    *collections.Store
	recorder Recorder
	queues   map[key]*queue
	outbox   []activity.Entry // confirmed entries waiting to be recorded outside the lock
	inflight int
	idle     chan struct{}
	nowFunc  func() time.Time
	logger   zerolog.Logger
	lock     sync.Mutex
}

type EngineOption func(*Engine)

func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine returns an engine mutating store and recording confirmed intents to recorder.
func NewEngine(store *collections.Store, recorder Recorder, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("[NewEngine] store is required")
	}
	if recorder == nil {
		return nil, errors.New("[NewEngine] recorder is required")
	}
	e := &Engine{
		store:    store,
		recorder: recorder,
		queues:   make(map[key]*queue),
		nowFunc:  time.Now,
		logger:   log.With().Str("component", "mutation").Logger(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// Apply runs the intent's Forward against the store, queues its remote write
// behind earlier intents for the same resource and returns without waiting
// for the backend. The returned handle settles once the write is confirmed
// or rolled back. Cancelling ctx does not abort the write.
func (e *Engine) Apply(ctx context.Context, intent Intent) (*Pending, error) {
	if err := intent.validate(); err != nil {
		return nil, err
	}

	t := &tracked{
		intent:  intent,
		key:     key{collection: intent.Collection, id: intent.TargetID},
		ctx:     context.WithoutCancel(ctx),
		pending: newPending(uuid.New().String(), intent),
	}

	e.lock.Lock()
	t.generation = e.store.Generation(intent.Collection)
	t.snapshot = e.store.Capture(intent.Collection, intent.TargetID)
	if err := intent.Forward(e.store); err != nil {
		e.store.Restore(intent.Collection, intent.TargetID, t.snapshot)
		e.lock.Unlock()
		return nil, errors.Wrapf(err, "[Engine Apply] forward %s %s/%s", intent.Action, intent.Collection, intent.TargetID)
	}

	q, ok := e.queues[t.key]
	if !ok {
		q = &queue{remoteID: intent.TargetID}
		e.queues[t.key] = q
	}
	q.items = append(q.items, t)
	start := len(q.items) == 1
	if start {
		if e.inflight == 0 {
			e.idle = make(chan struct{})
		}
		e.inflight++
	}
	e.lock.Unlock()

	e.logger.Debug().Str("intent_id", t.pending.ID()).Str("action", intent.Action).
		Str("target", intent.Collection+"/"+intent.TargetID).Msg("intent applied")

	if start {
		go e.drain(t.key)
	}
	return t.pending, nil
}

// Idle blocks until every queued intent has settled.
func (e *Engine) Idle(ctx context.Context) error {
	e.lock.Lock()
	if e.inflight == 0 {
		e.lock.Unlock()
		return nil
	}
	idle := e.idle
	e.lock.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load installs rows fetched from the backend into collection and re-applies
// the forward of every unsettled intent on that collection on top, so a reload
// never erases an optimistic change still in flight. It returns false when the
// token was superseded.
func (e *Engine) Load(collection string, rows []remote.Resource, token collections.LoadToken) bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	if !e.store.Load(collection, rows, token) {
		return false
	}
	for k, q := range e.queues {
		if k.collection == collection {
			e.replay(q)
		}
	}
	return true
}

// PendingCount returns the number of unsettled intents.
func (e *Engine) PendingCount() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	n := 0
	for _, q := range e.queues {
		n += len(q.items)
	}
	return n
}

// drain issues the remote writes queued for k one at a time, in issue order.
func (e *Engine) drain(k key) {
	for {
		e.lock.Lock()
		q := e.queues[k]
		if len(q.items) == 0 {
			e.flushDeferred(q)
			records := e.takeOutbox()
			delete(e.queues, k)
			e.lock.Unlock()

			e.record(records)
			e.lock.Lock()
			e.inflight--
			if e.inflight == 0 {
				close(e.idle)
			}
			e.lock.Unlock()
			return
		}
		t := q.items[0]
		remoteID := q.remoteID
		e.lock.Unlock()

		resource, err := t.intent.RemoteWrite(t.ctx, remoteID)

		e.lock.Lock()
		result, settleErr := e.settle(q, t, resource, err)
		records := e.takeOutbox()
		e.lock.Unlock()

		e.record(records)
		t.pending.finish(result, settleErr)
	}
}

// settle resolves the head intent of q. Must be called with e.lock held.
func (e *Engine) settle(q *queue, t *tracked, resource *remote.Resource, writeErr error) (Result, error) {
	q.items = q.items[1:]
	result := Result{IntentID: t.pending.ID(), ResourceID: t.intent.TargetID}

	if t.pending.Status() != StatusPending {
		result.Status = t.pending.Status()
		result.Discarded = true
		return result, ErrDiscarded
	}

	stale := e.store.Generation(t.key.collection) != t.generation
	result.Discarded = stale

	if writeErr != nil {
		t.pending.setStatus(StatusRolledBack)
		result.Status = StatusRolledBack
		if stale {
			e.logger.Debug().Str("intent_id", result.IntentID).Msg("collection reset while pending, rollback skipped")
		} else {
			e.rollback(q, t)
			result.ResourceID = e.adoptRemoteID(q, t)
		}
		if len(q.items) == 0 {
			e.flushDeferred(q)
		}
		e.logger.Warn().Err(writeErr).Str("intent_id", result.IntentID).Str("action", t.intent.Action).
			Str("target", t.key.collection+"/"+t.key.id).Msg("remote write failed, intent rolled back")
		return result, writeErr
	}

	t.pending.setStatus(StatusConfirmed)
	result.Status = StatusConfirmed
	if resource != nil {
		r := resource.Clone()
		result.Resource = &r
		if !stale {
			result.ResourceID = e.reconcile(q, t, r)
		}
	} else if !stale {
		result.ResourceID = e.adoptRemoteID(q, t)
	}

	if entry := e.entryFor(t, result.ResourceID); entry != nil {
		if len(q.items) == 0 {
			q.deferred = nil
			e.outbox = append(e.outbox, *entry)
		} else {
			q.deferred = entry
		}
	}
	return result, nil
}

// rollback undoes t and reapplies every later intent of the same resource on
// top, so a rollback never erases a forward issued after it.
func (e *Engine) rollback(q *queue, t *tracked) {
	if t.intent.Inverse != nil {
		if err := t.intent.Inverse(e.store); err != nil {
			e.logger.Err(err).Str("intent_id", t.pending.ID()).Msg("Inverse failed, restoring snapshot")
			e.store.Restore(t.key.collection, t.key.id, t.snapshot)
		}
	} else {
		e.store.Restore(t.key.collection, t.key.id, t.snapshot)
	}
	e.replay(q)
}

// replay reruns the forwards of every queued intent, recapturing their snapshots.
func (e *Engine) replay(q *queue) {
	for _, later := range q.items {
		later.snapshot = e.store.Capture(later.key.collection, later.key.id)
		if err := later.intent.Forward(e.store); err != nil {
			e.logger.Debug().Err(err).Str("intent_id", later.pending.ID()).Msg("forward no longer applies")
		}
	}
}

// reconcile writes the server-computed fields of a confirmed write onto the
// optimistic entry and returns the id the entry now lives under.
func (e *Engine) reconcile(q *queue, t *tracked, r remote.Resource) string {
	id := t.key.id
	if r.ID != "" {
		q.remoteID = r.ID
	}
	if _, ok := e.store.Get(t.key.collection, id); !ok {
		return q.remoteID
	}

	if len(q.items) == 0 {
		id = e.adoptRemoteID(q, t)
		if err := e.store.ApplyPatch(t.key.collection, id, r.Fields); err != nil {
			e.logger.Err(err).Str("intent_id", t.pending.ID()).Msg("Failed to reconcile server fields")
		}
		return id
	}

	// Later intents are queued against this id: rebuild the confirmed base
	// under them instead of patching over their optimistic values. The entry
	// keeps its local id until the queue drains; their writes use remoteID.
	if q.remoteID != id {
		e.logger.Debug().Str("intent_id", t.pending.ID()).Str("server_id", q.remoteID).
			Msg("server assigned a new id, queued writes follow it")
	}
	base := q.items[0].snapshot
	if !base.Present {
		return id
	}
	if base.Resource.Fields == nil {
		base.Resource.Fields = remote.Fields{}
	}
	for k, v := range r.Fields.Clone() {
		if k == "id" {
			continue
		}
		base.Resource.Fields[k] = v
	}
	e.store.Restore(t.key.collection, id, base)
	e.replay(q)
	return id
}

// adoptRemoteID moves the entry to the backend id once no intent is queued
// against the local one, and returns the id the target now lives under.
func (e *Engine) adoptRemoteID(q *queue, t *tracked) string {
	id := t.key.id
	if len(q.items) > 0 || q.remoteID == id {
		return id
	}
	if _, ok := e.store.Get(t.key.collection, id); !ok {
		return q.remoteID
	}
	if err := e.store.Rekey(t.key.collection, id, q.remoteID); err != nil {
		e.logger.Err(err).Str("intent_id", t.pending.ID()).Msg("Failed to rekey reconciled entry")
		return id
	}
	return q.remoteID
}

func (e *Engine) entryFor(t *tracked, resourceID string) *activity.Entry {
	if t.intent.Action == "" {
		return nil
	}
	return &activity.Entry{
		ID:        uuid.New().String(),
		Action:    t.intent.Action,
		Actor:     t.intent.Actor,
		Target:    t.key.collection + "/" + resourceID,
		Timestamp: e.nowFunc(),
	}
}

func (e *Engine) flushDeferred(q *queue) {
	if q.deferred == nil {
		return
	}
	e.outbox = append(e.outbox, *q.deferred)
	q.deferred = nil
}

func (e *Engine) takeOutbox() []activity.Entry {
	records := e.outbox
	e.outbox = nil
	return records
}

func (e *Engine) record(records []activity.Entry) {
	for _, entry := range records {
		e.recorder.Record(entry)
	}
}
