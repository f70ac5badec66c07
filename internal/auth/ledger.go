package auth

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// TokenRef identifies one outstanding token.
type TokenRef struct {
	TokenID string
	Expiry  time.Time
}

// Ledger records revoked token ids until their original expiry and tracks
// issued ids so an admin can revoke every outstanding token for a user.
type Ledger interface {
	Revoke(ctx context.Context, username, tokenID string, expiry time.Time) error
	IsRevoked(ctx context.Context, username, tokenID string) (bool, error)
	TrackIssued(ctx context.Context, username, tokenID string, expiry time.Time) error
	Outstanding(ctx context.Context, username string) ([]TokenRef, error)
	Close()
}

// expiryHeap is a min-heap of token refs ordered by expiry.
type expiryHeap []TokenRef

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].Expiry.Before(h[j].Expiry) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(TokenRef)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type userLedger struct {
	heap    expiryHeap
	revoked map[string]time.Time
}

// purge evicts entries whose expiry has passed. Caller holds the lock.
func (u *userLedger) purge(now time.Time) {
	for u.heap.Len() > 0 && u.heap[0].Expiry.Before(now) {
		ref := heap.Pop(&u.heap).(TokenRef)
		if exp, ok := u.revoked[ref.TokenID]; ok && !exp.After(now) {
			delete(u.revoked, ref.TokenID)
		}
	}
}

// MemoryLedger is the single-worker in-process ledger: a per-user min-heap
// keyed by expiry with lazy pre-check purge and a periodic sweep.
type MemoryLedger struct {
	mu     sync.Mutex
	users  map[string]*userLedger
	issued map[string]map[string]time.Time
	cancel context.CancelFunc
}

// NewMemoryLedger creates a ledger with a background sweep.
func NewMemoryLedger(sweepInterval time.Duration) *MemoryLedger {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	ml := &MemoryLedger{
		users:  make(map[string]*userLedger),
		issued: make(map[string]map[string]time.Time),
		cancel: cancel,
	}
	go ml.sweep(ctx, sweepInterval)
	return ml
}

func (ml *MemoryLedger) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			ml.mu.Lock()
			for username, u := range ml.users {
				u.purge(now)
				if u.heap.Len() == 0 && len(u.revoked) == 0 {
					delete(ml.users, username)
				}
			}
			for username, tokens := range ml.issued {
				for id, exp := range tokens {
					if exp.Before(now) {
						delete(tokens, id)
					}
				}
				if len(tokens) == 0 {
					delete(ml.issued, username)
				}
			}
			ml.mu.Unlock()
		}
	}
}

func (ml *MemoryLedger) Revoke(_ context.Context, username, tokenID string, expiry time.Time) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	u := ml.users[username]
	if u == nil {
		u = &userLedger{revoked: make(map[string]time.Time)}
		ml.users[username] = u
	}
	if _, exists := u.revoked[tokenID]; !exists {
		heap.Push(&u.heap, TokenRef{TokenID: tokenID, Expiry: expiry})
	}
	u.revoked[tokenID] = expiry
	return nil
}

func (ml *MemoryLedger) IsRevoked(_ context.Context, username, tokenID string) (bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	u := ml.users[username]
	if u == nil {
		return false, nil
	}
	u.purge(time.Now())
	_, revoked := u.revoked[tokenID]
	return revoked, nil
}

func (ml *MemoryLedger) TrackIssued(_ context.Context, username, tokenID string, expiry time.Time) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	tokens := ml.issued[username]
	if tokens == nil {
		tokens = make(map[string]time.Time)
		ml.issued[username] = tokens
	}
	tokens[tokenID] = expiry
	return nil
}

func (ml *MemoryLedger) Outstanding(_ context.Context, username string) ([]TokenRef, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	now := time.Now()
	var refs []TokenRef
	for id, exp := range ml.issued[username] {
		if exp.After(now) {
			refs = append(refs, TokenRef{TokenID: id, Expiry: exp})
		}
	}
	return refs, nil
}

// Size returns the number of users with live revocations.
func (ml *MemoryLedger) Size() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.users)
}

// Close stops the sweep goroutine.
func (ml *MemoryLedger) Close() {
	ml.cancel()
}
