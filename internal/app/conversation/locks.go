package conversation

import (
	"sync"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

// keyedMutex serializes work per key. Entries are dropped once no
// goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until id is free and returns its unlock func.
func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func conversationKey(id domain.ConversationID) string {
	return "conversation:" + string(id)
}

// threadKey guards the lookup-or-create of a user's open thread on a topic.
func threadKey(tenantID domain.TenantID, userID domain.UserID, topic domain.Topic) string {
	return "thread:" + string(tenantID) + "|" + string(userID) + "|" + string(topic)
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
