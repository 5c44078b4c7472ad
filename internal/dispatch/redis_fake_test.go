package dispatch

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/brightsend/campaign-dispatcher/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// fakeRedisAdapter is an in-memory stand-in covering the key/value,
// sorted-set and list operations the dispatcher uses.
type fakeRedisAdapter struct {
	mu    sync.Mutex
	data  map[string][]byte
	ttls  map[string]time.Time
	zsets map[string]map[string]float64
	lists map[string][]string

	// zremErr, when set, fails the next ZRem calls until cleared.
	zremErr error
}

func newFakeRedisAdapter() *fakeRedisAdapter {
	return &fakeRedisAdapter{
		data:  make(map[string][]byte),
		ttls:  make(map[string]time.Time),
		zsets: make(map[string]map[string]float64),
		lists: make(map[string][]string),
	}
}

func (m *fakeRedisAdapter) expired(key string) bool {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return true
	}
	return false
}

func (m *fakeRedisAdapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists && !m.expired(key) {
		return false, nil
	}
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (m *fakeRedisAdapter) Set(key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *fakeRedisAdapter) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, redis.NilError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, redis.NilError
}

func (m *fakeRedisAdapter) Del(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *fakeRedisAdapter) Exist(key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return 0, nil
	}
	if _, ok := m.data[key]; ok {
		return 1, nil
	}
	return 0, nil
}

func (m *fakeRedisAdapter) ZAdd(key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

func (m *fakeRedisAdapter) ZRangeByScore(key string, min, max string, count int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parse := func(s string, def float64) float64 {
		switch s {
		case "-inf":
			return -1 << 62
		case "+inf":
			return 1 << 62
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return def
		}
		return f
	}
	lo := parse(min, -1<<62)
	hi := parse(max, 1<<62)

	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for member, score := range m.zsets[key] {
		if score >= lo && score <= hi {
			entries = append(entries, entry{member, score})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })

	members := make([]string, 0, len(entries))
	for _, e := range entries {
		if count > 0 && int64(len(members)) >= count {
			break
		}
		members = append(members, e.member)
	}
	return members, nil
}

func (m *fakeRedisAdapter) ZRem(key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zremErr != nil {
		return 0, m.zremErr
	}
	var removed int64
	for _, member := range members {
		if _, ok := m.zsets[key][member]; ok {
			delete(m.zsets[key], member)
			removed++
		}
	}
	return removed, nil
}

func (m *fakeRedisAdapter) ZCard(key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *fakeRedisAdapter) RPush(key string, values ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		switch s := v.(type) {
		case string:
			m.lists[key] = append(m.lists[key], s)
		case []byte:
			m.lists[key] = append(m.lists[key], string(s))
		}
	}
	return nil
}

func (m *fakeRedisAdapter) LPop(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return "", redis.NilError
	}
	head := list[0]
	m.lists[key] = list[1:]
	return head, nil
}

func (m *fakeRedisAdapter) LLen(key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

// Stub implementations for the stream operations the components under
// test never touch.
func (m *fakeRedisAdapter) Client() goredis.UniversalClient { return nil }
func (m *fakeRedisAdapter) XAdd(key string, values map[string]interface{}) (string, error) {
	return "", nil
}
func (m *fakeRedisAdapter) XReadGroup(group, consumer, key, id string, count int64) ([]redis.StreamMessage, error) {
	return nil, nil
}
func (m *fakeRedisAdapter) XAck(key, group string, ids ...string) error           { return nil }
func (m *fakeRedisAdapter) XGroupCreateMkStream(key, group, start string) error   { return nil }
func (m *fakeRedisAdapter) XLen(key string) (int64, error)                        { return 0, nil }
func (m *fakeRedisAdapter) XTrimApprox(key string, maxLen int64) error            { return nil }
func (m *fakeRedisAdapter) XPending(key, group string) (*goredis.XPending, error) { return nil, nil }
func (m *fakeRedisAdapter) XPendingExt(key, group string, start, end string, count int64) ([]goredis.XPendingExt, error) {
	return nil, nil
}
func (m *fakeRedisAdapter) XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.StreamMessage, error) {
	return nil, nil
}
