package collections

import (
	"sort"
	"sync"

	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrExists   = errors.New("resource already exists")
)

// Change identifies what moved in a notification. ID is empty when the whole
// collection was replaced or cleared.
type Change struct {
	Collection string
	ID         string
}

// View is the read-only side of the Store handed to UI code.
type View interface {
	Snapshot(name string) []remote.Resource
	Get(name, id string) (remote.Resource, bool)
	IsFavorite(listingID string) bool
	FavoritesOwner() string
	Subscribe(fn func(Change)) (dispose func())
}

// Entry is a captured copy of one resource together with its position, enough
// to put the collection back exactly as it was.
type Entry struct {
	Resource remote.Resource
	Index    int
	Present  bool
}

type collection struct {
	order      []string
	rows       map[string]remote.Resource
	generation uint64 // bumped by resets only
	started    uint64 // last load ticket handed out
	applied    uint64 // ticket of the load currently installed
}

// LoadToken identifies one load of a collection. A load is applied only when
// no reset happened since it began and no later-started load was applied first.
type LoadToken struct {
	Generation uint64
	Ticket     uint64
}

func (c *collection) index(id string) int {
	for i, v := range c.order {
		if v == id {
			return i
		}
	}
	return -1
}

// Store holds the in-memory collections. Mutating methods are reserved for
// the mutation engine and the loaders in package client; everything else reads through View.
type Store struct {
	collections    map[string]*collection
	favoritesOwner string
	subscribers    map[int]func(Change)
	nextID         int
	lock           sync.RWMutex
}

var _ View = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		subscribers: make(map[int]func(Change)),
	}
}

func (s *Store) get(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{rows: make(map[string]remote.Resource)}
		s.collections[name] = c
	}
	return c
}

// Snapshot returns deep copies of every resource in name, in collection order.
func (s *Store) Snapshot(name string) []remote.Resource {
	s.lock.RLock()
	defer s.lock.RUnlock()

	out := make([]remote.Resource, 0)
	c, ok := s.collections[name]
	if !ok {
		return out
	}
	for _, id := range c.order {
		out = append(out, c.rows[id].Clone())
	}
	return out
}

// Get returns a copy of one resource.
func (s *Store) Get(name, id string) (remote.Resource, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return remote.Resource{}, false
	}
	r, ok := c.rows[id]
	if !ok {
		return remote.Resource{}, false
	}
	return r.Clone(), true
}

// IsFavorite reports whether the current favorites owner has favorited listingID.
func (s *Store) IsFavorite(listingID string) bool {
	_, ok := s.Get(remote.Favorites, listingID)
	return ok
}

// FavoritesOwner returns the user the favorites edge set belongs to.
func (s *Store) FavoritesOwner() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.favoritesOwner
}

// Generation returns the reset counter of name. Results computed against an
// older generation must not be applied.
func (s *Store) Generation(name string) uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if c, ok := s.collections[name]; ok {
		return c.generation
	}
	return 0
}

// Subscribe registers fn for every change and returns its disposer.
// fn runs on the goroutine that made the change, after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.lock.Lock()
	defer s.lock.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lock.Lock()
			defer s.lock.Unlock()
			delete(s.subscribers, id)
		})
	}
}

func (s *Store) notify(change Change) {
	s.lock.RLock()
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subscribers[id])
	}
	s.lock.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

// ApplyInsert appends r to name.
func (s *Store) ApplyInsert(name string, r remote.Resource) error {
	s.lock.Lock()
	c := s.get(name)
	if _, ok := c.rows[r.ID]; ok {
		s.lock.Unlock()
		return errors.Wrapf(ErrExists, "[Store ApplyInsert] %s/%s", name, r.ID)
	}
	c.order = append(c.order, r.ID)
	c.rows[r.ID] = r.Clone()
	s.lock.Unlock()

	s.notify(Change{Collection: name, ID: r.ID})
	return nil
}

// ApplyPatch merges patch into the server fields of name/id.
func (s *Store) ApplyPatch(name, id string, patch remote.Fields) error {
	s.lock.Lock()
	c := s.get(name)
	r, ok := c.rows[id]
	if !ok {
		s.lock.Unlock()
		return errors.Wrapf(ErrNotFound, "[Store ApplyPatch] %s/%s", name, id)
	}
	r = r.Clone()
	if r.Fields == nil {
		r.Fields = remote.Fields{}
	}
	for k, v := range patch.Clone() {
		r.Fields[k] = v
	}
	c.rows[id] = r
	s.lock.Unlock()

	s.notify(Change{Collection: name, ID: id})
	return nil
}

// ApplyRemove deletes name/id.
func (s *Store) ApplyRemove(name, id string) error {
	s.lock.Lock()
	c := s.get(name)
	i := c.index(id)
	if i < 0 {
		s.lock.Unlock()
		return errors.Wrapf(ErrNotFound, "[Store ApplyRemove] %s/%s", name, id)
	}
	c.order = append(c.order[:i], c.order[i+1:]...)
	delete(c.rows, id)
	s.lock.Unlock()

	s.notify(Change{Collection: name, ID: id})
	return nil
}

// Rekey renames oldID to newID in place, keeping the resource's position.
func (s *Store) Rekey(name, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	s.lock.Lock()
	c := s.get(name)
	i := c.index(oldID)
	if i < 0 {
		s.lock.Unlock()
		return errors.Wrapf(ErrNotFound, "[Store Rekey] %s/%s", name, oldID)
	}
	if _, ok := c.rows[newID]; ok {
		s.lock.Unlock()
		return errors.Wrapf(ErrExists, "[Store Rekey] %s/%s", name, newID)
	}
	r := c.rows[oldID]
	delete(c.rows, oldID)
	r.ID = newID
	c.rows[newID] = r
	c.order[i] = newID
	s.lock.Unlock()

	s.notify(Change{Collection: name, ID: newID})
	return nil
}

// Capture copies name/id and its position.
func (s *Store) Capture(name, id string) Entry {
	s.lock.RLock()
	defer s.lock.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return Entry{Index: -1}
	}
	i := c.index(id)
	if i < 0 {
		return Entry{Index: -1}
	}
	return Entry{Resource: c.rows[id].Clone(), Index: i, Present: true}
}

// Restore puts name/id back to a captured Entry: absent entries are removed,
// present ones are written back at their captured position.
func (s *Store) Restore(name, id string, e Entry) {
	s.lock.Lock()
	c := s.get(name)
	if i := c.index(id); i >= 0 {
		c.order = append(c.order[:i], c.order[i+1:]...)
		delete(c.rows, id)
	}
	if e.Present {
		at := e.Index
		if at < 0 || at > len(c.order) {
			at = len(c.order)
		}
		c.order = append(c.order, "")
		copy(c.order[at+1:], c.order[at:])
		c.order[at] = id
		r := e.Resource.Clone()
		r.ID = id
		c.rows[id] = r
	}
	s.lock.Unlock()

	s.notify(Change{Collection: name, ID: id})
}

// BeginLoad hands out the token a load of name must present to Load.
func (s *Store) BeginLoad(name string) LoadToken {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.beginLoad(name)
}

func (s *Store) beginLoad(name string) LoadToken {
	c := s.get(name)
	c.started++
	return LoadToken{Generation: c.generation, Ticket: c.started}
}

// Load replaces name with rows unless token was superseded by a reset or by a
// later-started load. It returns false when the rows are stale. The
// generation is left alone, so optimistic intents in flight stay valid.
func (s *Store) Load(name string, rows []remote.Resource, token LoadToken) bool {
	s.lock.Lock()
	c := s.get(name)
	if c.generation != token.Generation || token.Ticket <= c.applied {
		s.lock.Unlock()
		return false
	}
	c.applied = token.Ticket
	c.order = make([]string, 0, len(rows))
	c.rows = make(map[string]remote.Resource, len(rows))
	for _, r := range rows {
		if _, dup := c.rows[r.ID]; dup {
			continue
		}
		c.order = append(c.order, r.ID)
		c.rows[r.ID] = r.Clone()
	}
	s.lock.Unlock()

	s.notify(Change{Collection: name})
	return true
}

// Reset empties name and advances its generation.
func (s *Store) Reset(name string) {
	s.lock.Lock()
	s.reset(name)
	s.lock.Unlock()

	s.notify(Change{Collection: name})
}

func (s *Store) reset(name string) {
	c := s.get(name)
	c.order = nil
	c.rows = make(map[string]remote.Resource)
	c.generation++
}

// SetFavoritesOwner scopes the favorites edge set to userID. Switching to a
// different user clears the set so no cross-user view survives; the caller
// reloads it with the returned token. It also reports whether the owner changed.
func (s *Store) SetFavoritesOwner(userID string) (LoadToken, bool) {
	s.lock.Lock()
	if s.favoritesOwner == userID {
		token := s.beginLoad(remote.Favorites)
		s.lock.Unlock()
		return token, false
	}
	s.favoritesOwner = userID
	s.reset(remote.Favorites)
	token := s.beginLoad(remote.Favorites)
	s.lock.Unlock()

	s.notify(Change{Collection: remote.Favorites})
	return token, true
}
