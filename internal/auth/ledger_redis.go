package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLedger backs the revocation ledger in the shared counter store so
// revocations are authoritative across workers. Sorted sets keyed by user
// hold token ids scored by expiry; expired members are trimmed lazily.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger creates a ledger over an established client.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, prefix: "doorman:"}
}

func (rl *RedisLedger) revokedKey(username string) string {
	return rl.prefix + "revoked:" + username
}

func (rl *RedisLedger) issuedKey(username string) string {
	return rl.prefix + "issued:" + username
}

func (rl *RedisLedger) add(ctx context.Context, key, tokenID string, expiry time.Time) error {
	pipe := rl.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry.Unix()), Member: tokenID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", nowScore())
	pipe.ExpireAt(ctx, key, expiry.Add(time.Hour))
	_, err := pipe.Exec(ctx)
	return err
}

func (rl *RedisLedger) Revoke(ctx context.Context, username, tokenID string, expiry time.Time) error {
	if err := rl.add(ctx, rl.revokedKey(username), tokenID, expiry); err != nil {
		logging.Warn("revocation ledger write failed", zap.Error(err))
		return err
	}
	return nil
}

// IsRevoked checks the revoked set. Fails open on backend errors so an
// outage does not lock every caller out.
func (rl *RedisLedger) IsRevoked(ctx context.Context, username, tokenID string) (bool, error) {
	key := rl.revokedKey(username)
	if err := rl.client.ZRemRangeByScore(ctx, key, "-inf", nowScore()).Err(); err != nil {
		logging.Warn("revocation ledger trim failed (failing open)", zap.Error(err))
		return false, nil
	}
	err := rl.client.ZScore(ctx, key, tokenID).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		logging.Warn("revocation ledger read failed (failing open)", zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (rl *RedisLedger) TrackIssued(ctx context.Context, username, tokenID string, expiry time.Time) error {
	return rl.add(ctx, rl.issuedKey(username), tokenID, expiry)
}

func (rl *RedisLedger) Outstanding(ctx context.Context, username string) ([]TokenRef, error) {
	key := rl.issuedKey(username)
	if err := rl.client.ZRemRangeByScore(ctx, key, "-inf", nowScore()).Err(); err != nil {
		return nil, err
	}
	members, err := rl.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	refs := make([]TokenRef, 0, len(members))
	for _, m := range members {
		id, ok := m.Member.(string)
		if !ok {
			continue
		}
		refs = append(refs, TokenRef{TokenID: id, Expiry: time.Unix(int64(m.Score), 0)})
	}
	return refs, nil
}

// Close is a no-op; the client is shared.
func (rl *RedisLedger) Close() {}

// nowScore is the exclusive upper bound for trimming expired members.
func nowScore() string {
	return "(" + strconv.FormatInt(time.Now().Unix(), 10)
}
