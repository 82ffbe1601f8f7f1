package statemachine

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// dedupCapacity bounds the in-memory recent-request-id set.
const dedupCapacity = 4096

// dedupTTL is how long a RequestID is remembered in the Redis-backed variant.
const dedupTTL = 10 * time.Minute

// requestDedup remembers recently applied RequestIDs and the result they
// produced, so a retried Submit (client retry after a timeout, or an
// at-least-once AssistService forward) replays the original result instead
// of re-mutating state. This directly resolves the durability/idempotency
// open question: a mandatory client-request id, deduplicated server-side.
type requestDedup interface {
	// Lookup returns the cached result and true if id was already applied.
	Lookup(id uuid.UUID) ([]byte, bool)
	// Remember records id's result for future Lookup calls.
	Remember(id uuid.UUID, result []byte)
}

// memoryDedup is the default backend: a bounded LRU list, process-local.
// It does not survive a restart and is not shared across replicas, which is
// acceptable because every replica applies the same commits in the same
// order and will independently reject a true duplicate seat/cancel via the
// domain invariants even on a dedup miss.
type memoryDedup struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[uuid.UUID]*list.Element
}

type dedupEntry struct {
	id     uuid.UUID
	result []byte
}

func newMemoryDedup(capacity int) *memoryDedup {
	return &memoryDedup{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uuid.UUID]*list.Element),
	}
}

func (d *memoryDedup) Lookup(id uuid.UUID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.entries[id]
	if !ok {
		return nil, false
	}
	d.order.MoveToFront(el)
	return el.Value.(*dedupEntry).result, true
}

func (d *memoryDedup) Remember(id uuid.UUID, result []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[id]; ok {
		el.Value.(*dedupEntry).result = result
		d.order.MoveToFront(el)
		return
	}

	el := d.order.PushFront(&dedupEntry{id: id, result: result})
	d.entries[id] = el

	for d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.entries, oldest.Value.(*dedupEntry).id)
	}
}

// redisDedup is the opt-in backend, used when Redis is enabled in the
// config (RedisConfig.Enabled, REDIS_ENABLED) so the
// dedup set is visible to every router sharing that Redis instance, not
// just the local node.
type redisDedup struct {
	client *redis.Client
}

func newRedisDedup(client *redis.Client) *redisDedup {
	return &redisDedup{client: client}
}

func (d *redisDedup) Lookup(id uuid.UUID) ([]byte, bool) {
	val, err := d.client.Get(context.Background(), dedupKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var cached []byte
	if err := json.Unmarshal(val, &cached); err != nil {
		return nil, false
	}
	return cached, true
}

func (d *redisDedup) Remember(id uuid.UUID, result []byte) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return
	}
	d.client.Set(context.Background(), dedupKey(id), encoded, dedupTTL)
}

func dedupKey(id uuid.UUID) string {
	return "raftbooking:dedup:" + id.String()
}
