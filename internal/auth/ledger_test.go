package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryLedgerRevoke(t *testing.T) {
	ledger := NewMemoryLedger(time.Minute)
	defer ledger.Close()
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	if err := ledger.Revoke(ctx, "alice", "jti-1", future); err != nil {
		t.Fatal(err)
	}

	revoked, err := ledger.IsRevoked(ctx, "alice", "jti-1")
	if err != nil {
		t.Fatal(err)
	}
	if !revoked {
		t.Error("revoked token not reported")
	}

	revoked, err = ledger.IsRevoked(ctx, "alice", "jti-2")
	if err != nil {
		t.Fatal(err)
	}
	if revoked {
		t.Error("unrelated token reported revoked")
	}

	revoked, err = ledger.IsRevoked(ctx, "bob", "jti-1")
	if err != nil {
		t.Fatal(err)
	}
	if revoked {
		t.Error("revocation leaked across users")
	}
}

func TestMemoryLedgerExpiredEntriesPurged(t *testing.T) {
	ledger := NewMemoryLedger(time.Minute)
	defer ledger.Close()
	ctx := context.Background()

	if err := ledger.Revoke(ctx, "alice", "jti-old", time.Now().Add(20*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Revoke(ctx, "alice", "jti-new", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	revoked, err := ledger.IsRevoked(ctx, "alice", "jti-old")
	if err != nil {
		t.Fatal(err)
	}
	if revoked {
		t.Error("entry should drop once the token itself expired")
	}
	revoked, err = ledger.IsRevoked(ctx, "alice", "jti-new")
	if err != nil {
		t.Fatal(err)
	}
	if !revoked {
		t.Error("live revocation lost during purge")
	}
}

func TestMemoryLedgerOutstanding(t *testing.T) {
	ledger := NewMemoryLedger(time.Minute)
	defer ledger.Close()
	ctx := context.Background()

	if err := ledger.TrackIssued(ctx, "alice", "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := ledger.TrackIssued(ctx, "alice", "jti-2", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := ledger.TrackIssued(ctx, "alice", "jti-dead", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	refs, err := ledger.Outstanding(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 outstanding tokens, got %d", len(refs))
	}
	ids := map[string]bool{}
	for _, ref := range refs {
		ids[ref.TokenID] = true
	}
	if !ids["jti-1"] || !ids["jti-2"] || ids["jti-dead"] {
		t.Errorf("unexpected outstanding set: %v", ids)
	}
}

func TestMemoryLedgerIdempotentRevoke(t *testing.T) {
	ledger := NewMemoryLedger(time.Minute)
	defer ledger.Close()
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	for i := 0; i < 3; i++ {
		if err := ledger.Revoke(ctx, "alice", "jti-1", expiry); err != nil {
			t.Fatal(err)
		}
	}
	if n := ledger.Size("alice"); n != 1 {
		t.Errorf("duplicate revocations stored: size=%d", n)
	}
}

func TestRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ledger := NewRedisLedger(client)
	ctx := context.Background()

	if err := ledger.Revoke(ctx, "alice", "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	revoked, err := ledger.IsRevoked(ctx, "alice", "jti-1")
	if err != nil {
		t.Fatal(err)
	}
	if !revoked {
		t.Error("revoked token not reported")
	}
	revoked, err = ledger.IsRevoked(ctx, "alice", "jti-2")
	if err != nil {
		t.Fatal(err)
	}
	if revoked {
		t.Error("unrelated token reported revoked")
	}
}

func TestRedisLedgerTrimsExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ledger := NewRedisLedger(client)
	ctx := context.Background()

	if err := ledger.Revoke(ctx, "alice", "jti-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Revoke(ctx, "alice", "jti-new", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	revoked, err := ledger.IsRevoked(ctx, "alice", "jti-old")
	if err != nil {
		t.Fatal(err)
	}
	if revoked {
		t.Error("expired entry survived trim")
	}
	revoked, err = ledger.IsRevoked(ctx, "alice", "jti-new")
	if err != nil {
		t.Fatal(err)
	}
	if !revoked {
		t.Error("live entry trimmed")
	}
}

func TestRedisLedgerOutstanding(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ledger := NewRedisLedger(client)
	ctx := context.Background()

	if err := ledger.TrackIssued(ctx, "alice", "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := ledger.TrackIssued(ctx, "alice", "jti-2", time.Now().Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	refs, err := ledger.Outstanding(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 outstanding tokens, got %d", len(refs))
	}
	for _, ref := range refs {
		if ref.Expiry.Before(time.Now()) {
			t.Errorf("token %s reported with past expiry %v", ref.TokenID, ref.Expiry)
		}
	}
}

func TestRedisLedgerFailsOpenOnOutage(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ledger := NewRedisLedger(client)
	revoked, err := ledger.IsRevoked(context.Background(), "alice", "jti-1")
	if err != nil {
		t.Fatalf("read path must fail open, got %v", err)
	}
	if revoked {
		t.Error("outage must not report tokens revoked")
	}
}
