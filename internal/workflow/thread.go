package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is a thread's position in the rewrite loop.
type State string

const (
	StateScraped          State = "scraped"
	StateGenerating       State = "generating"
	StateAwaitingFeedback State = "awaiting_feedback"
	StateApproved         State = "approved"
)

var (
	ErrThreadNotFound    = errors.New("thread not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)

var transitions = map[State][]State{
	StateScraped:          {StateGenerating},
	StateGenerating:       {StateAwaitingFeedback, StateScraped},
	StateAwaitingFeedback: {StateGenerating, StateApproved},
}

// Thread is one rewrite session for a scraped page.
type Thread struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Original  string    `json:"original"`
	Generated string    `json:"generated"`
	Feedback  []string  `json:"feedback,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	State     State     `json:"state"`
	DocID     string    `json:"doc_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// transition moves t to next when the state machine allows it.
func (t *Thread) transition(next State) error {
	for _, allowed := range transitions[t.State] {
		if allowed == next {
			t.State = next
			t.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, next)
}

// ThreadStore persists threads between CLI invocations.
type ThreadStore interface {
	Save(ctx context.Context, t *Thread) error
	Get(ctx context.Context, id string) (*Thread, error)
}

// MemoryThreadStore keeps threads for the life of the process.
type MemoryThreadStore struct {
	mu      sync.RWMutex
	threads map[string]Thread
}

func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{threads: make(map[string]Thread)}
}

func (m *MemoryThreadStore) Save(_ context.Context, t *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.Feedback = append([]string(nil), t.Feedback...)
	m.threads[t.ID] = cp
	return nil
}

func (m *MemoryThreadStore) Get(_ context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	t.Feedback = append([]string(nil), t.Feedback...)
	return &t, nil
}

const threadKeyPrefix = "spinloop:thread:"

// RedisThreadStore keeps threads as JSON values that expire after ttl of
// inactivity.
type RedisThreadStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisThreadStore(client *redis.Client, ttl time.Duration) *RedisThreadStore {
	return &RedisThreadStore{client: client, ttl: ttl}
}

func (r *RedisThreadStore) Save(ctx context.Context, t *Thread) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, threadKeyPrefix+t.ID, data, r.ttl).Err()
}

func (r *RedisThreadStore) Get(ctx context.Context, id string) (*Thread, error) {
	val, err := r.client.Get(ctx, threadKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	var t Thread
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", id, err)
	}
	return &t, nil
}
