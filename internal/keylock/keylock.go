// keylock provides a concurrency-safe set of mutexes addressed by key, so that
// work for one key is serialized while work for different keys runs in
// parallel.
package keylock

import "sync"

// Map lazily creates one mutex per key. The zero value is ready to use. Keys
// are never evicted; a Map is meant for a bounded set of keys such as the test
// names in one test binary.
type Map struct {
	locks sync.Map // map[string]*sync.Mutex
}

// Lock blocks until the mutex for `key` is held and returns the function that
// releases it.
func (m *Map) Lock(key string) (unlock func()) {
	raw, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mu := raw.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// With holds the mutex for `key` while `cb` runs.
func (m *Map) With(key string, cb func() error) error {
	unlock := m.Lock(key)
	defer unlock()
	return cb()
}
