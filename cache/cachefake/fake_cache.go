package cachefake

import (
	"sync"

	"github.com/jrsteele09/go-listings-client/cache"
)

var _ cache.Store = (*FakeCache)(nil)

// FakeCache is an in-memory cache.Store.
type FakeCache struct {
	values map[string]string
	err    error
	lock   sync.RWMutex
}

func NewFakeCache() *FakeCache {
	return &FakeCache{values: make(map[string]string)}
}

// FailWith makes every subsequent call return err; nil restores normal behaviour.
func (fc *FakeCache) FailWith(err error) {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	fc.err = err
}

func (fc *FakeCache) Get(key string) (string, error) {
	fc.lock.RLock()
	defer fc.lock.RUnlock()
	if fc.err != nil {
		return "", fc.err
	}
	v, ok := fc.values[key]
	if !ok {
		return "", cache.ErrNotFound
	}
	return v, nil
}

func (fc *FakeCache) Set(key, value string) error {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	if fc.err != nil {
		return fc.err
	}
	fc.values[key] = value
	return nil
}

func (fc *FakeCache) Remove(key string) error {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	if fc.err != nil {
		return fc.err
	}
	delete(fc.values, key)
	return nil
}

// Has reports whether key is present.
func (fc *FakeCache) Has(key string) bool {
	fc.lock.RLock()
	defer fc.lock.RUnlock()
	_, ok := fc.values[key]
	return ok
}
