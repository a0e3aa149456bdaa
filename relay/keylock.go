package relay

import "sync"

// keyLock hands out one mutex per user. Entries are dropped once nobody
// holds or waits on them.
type keyLock struct {
	mx    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[int64]*refMutex)}
}

func (k *keyLock) Lock(key int64) (unlock func()) {
	k.mx.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mx.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mx.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mx.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mx.Lock()
	defer k.mx.Unlock()
	return len(k.locks)
}
