package score

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxtutor/voxtutor/pkg/core"
)

// PendingUpdate is a leaderboard delta whose optimistic write exhausted its
// conflict retries. It is queued and applied asynchronously so the
// user-facing conclusion never blocks on a hot record.
type PendingUpdate struct {
	UserID string    `json:"user_id"`
	Delta  int       `json:"delta"`
	Day    int       `json:"day"`
	At     time.Time `json:"at"`
}

// ReconcileQueue is a durable FIFO of pending updates.
type ReconcileQueue interface {
	Enqueue(ctx context.Context, upd PendingUpdate) error
	// Dequeue blocks until an update is available or ctx is done.
	Dequeue(ctx context.Context) (*PendingUpdate, error)
}

// MemoryQueue is an in-process ReconcileQueue for tests and single-node
// runs.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []PendingUpdate
	nonEmpty chan struct{}
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{nonEmpty: make(chan struct{}, 1)}
}

// Enqueue implements ReconcileQueue.
func (q *MemoryQueue) Enqueue(_ context.Context, upd PendingUpdate) error {
	q.mu.Lock()
	q.items = append(q.items, upd)
	q.mu.Unlock()
	select {
	case q.nonEmpty <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue implements ReconcileQueue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*PendingUpdate, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			upd := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return &upd, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.nonEmpty:
		}
	}
}

// Len returns the number of queued updates.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// RedisQueue is a ReconcileQueue on a Redis list, surviving process
// restarts and shared across nodes.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "voxtutor:leaderboard:reconcile"
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue implements ReconcileQueue.
func (q *RedisQueue) Enqueue(ctx context.Context, upd PendingUpdate) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return core.NewPersistenceError("encode pending update", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return core.NewPersistenceError("enqueue pending update", err)
	}
	return nil
}

// Dequeue implements ReconcileQueue.
func (q *RedisQueue) Dequeue(ctx context.Context) (*PendingUpdate, error) {
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, core.NewPersistenceError("dequeue pending update", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, core.NewPersistenceError("unexpected brpop reply", nil)
	}
	var upd PendingUpdate
	if err := json.Unmarshal([]byte(res[1]), &upd); err != nil {
		return nil, core.NewPersistenceError("decode pending update", err)
	}
	return &upd, nil
}

// Reconciler drains the queue in the background, applying each pending
// update with unbounded patience.
type Reconciler struct {
	updater *Updater
	queue   ReconcileQueue
	logger  *slog.Logger
}

// NewReconciler creates a reconciler for the given updater and queue.
func NewReconciler(updater *Updater, queue ReconcileQueue, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{updater: updater, queue: queue, logger: logger}
}

// Run drains until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		upd, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("reconcile dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if err := r.updater.applyWithRetry(ctx, upd.UserID, upd.Delta, upd.Day, upd.At, 0); err != nil {
			r.logger.Error("reconcile apply failed, re-queueing",
				"user_id", upd.UserID, "error", err)
			_ = r.queue.Enqueue(ctx, *upd)
		}
	}
}
