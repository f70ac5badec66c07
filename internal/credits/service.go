// Package credits meters upstream usage for credit-gated APIs. Every
// dispatched request to an API carrying an api_credit_group burns one credit
// from the caller's balance and resolves the upstream key to inject. The
// balance lives in the catalog store; in external mode deduction runs as a
// Lua script against the Redis hash so concurrent workers never double
// spend.
package credits

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/catalog"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

// deductScript spends one credit inside Redis. The balance document is a
// JSON value in the collection hash, so the script decodes, checks and
// rewrites it in one atomic step. Returns {-2} when no record exists,
// {-1} when the balance is empty, {1, remaining, doc} on success.
var deductScript = redis.NewScript(`
local doc = redis.call('HGET', KEYS[1], ARGV[1])
if not doc then
    return {-2, 0, ''}
end
local obj = cjson.decode(doc)
local credits = tonumber(obj['available_credits']) or 0
if credits <= 0 then
    return {-1, 0, ''}
end
obj['available_credits'] = credits - 1
obj['updated_at'] = ARGV[2]
local encoded = cjson.encode(obj)
redis.call('HSET', KEYS[1], ARGV[1], encoded)
return {1, credits - 1, encoded}
`)

const deductTimeout = 250 * time.Millisecond

// Deduction is the outcome of a successful spend: how many credits remain
// and which upstream key material to inject before forwarding.
type Deduction struct {
	Group     string
	Remaining int64
	Header    string
	Keys      []string
}

// Service spends and restores credits against the catalog store.
type Service struct {
	cat    *catalog.Catalog
	sealer *Sealer
	rds    *store.Redis

	// mu serializes memory-mode deductions, which are read-modify-write.
	mu sync.Mutex

	deducted atomic.Int64
	rejected atomic.Int64
}

// Option configures a Service.
type Option func(*Service)

// WithSealer installs the key sealer used to decrypt stored upstream keys.
func WithSealer(s *Sealer) Option {
	return func(svc *Service) { svc.sealer = s }
}

// WithRedis switches deduction to the atomic Redis script. The store must
// be the same one backing the catalog.
func WithRedis(r *store.Redis) Option {
	return func(svc *Service) { svc.rds = r }
}

// NewService builds a credit service over the catalog.
func NewService(cat *catalog.Catalog, opts ...Option) *Service {
	svc := &Service{cat: cat}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Deduct burns one credit from the user's balance in the given group and
// returns the key material to forward. A spent credit is not refunded when
// the upstream call later fails; each request costs at most one credit.
func (s *Service) Deduct(ctx context.Context, username, group string) (*Deduction, error) {
	def, err := s.cat.CreditDefByGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	if def == nil {
		s.rejected.Add(1)
		return nil, apierrors.ErrNoCreditRecord.WithDetails("credit group " + group + " is not defined")
	}
	var (
		remaining int64
		userKey   string
	)
	if s.rds != nil {
		remaining, userKey, err = s.deductExternal(ctx, username, group)
	} else {
		remaining, userKey, err = s.deductMemory(ctx, username, group)
	}
	if err != nil {
		s.rejected.Add(1)
		return nil, err
	}
	s.deducted.Add(1)
	d := &Deduction{
		Group:     group,
		Remaining: remaining,
		Header:    def.APIKeyHeader,
		Keys:      s.resolveKeys(def, userKey),
	}
	return d, nil
}

func (s *Service) deductMemory(ctx context.Context, username, group string) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc, err := s.cat.UserCreditsFor(ctx, username, group)
	if err != nil {
		return 0, "", err
	}
	if uc == nil {
		return 0, "", apierrors.ErrNoCreditRecord.WithDetails("no balance for " + username + " in group " + group)
	}
	if uc.AvailableCredits <= 0 {
		return 0, "", apierrors.ErrNoCredits
	}
	remaining := uc.AvailableCredits - 1
	col := s.cat.Store().Collection(model.CollectionUserCredits)
	_, err = col.UpdateOne(ctx,
		store.Query{"_id": catalog.UserCreditsID(username, group)},
		store.Document{"available_credits": remaining, "updated_at": time.Now().UTC()})
	if err != nil {
		return 0, "", apierrors.ErrUnexpected.Wrap(err)
	}
	return remaining, uc.UserAPIKey, nil
}

func (s *Service) deductExternal(ctx context.Context, username, group string) (int64, string, error) {
	cctx, cancel := context.WithTimeout(ctx, deductTimeout)
	defer cancel()
	res, err := deductScript.Run(cctx, s.rds.Client(),
		[]string{s.rds.CollectionKey(model.CollectionUserCredits)},
		catalog.UserCreditsID(username, group),
		time.Now().UTC().Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		// Billing integrity wins over availability: an unreachable
		// balance store rejects the request instead of giving the
		// call away.
		return 0, "", apierrors.ErrUnexpected.Wrap(fmt.Errorf("credit deduction script: %w", err))
	}
	if len(res) != 3 {
		return 0, "", apierrors.ErrUnexpected.Wrap(fmt.Errorf("credit deduction script: short reply"))
	}
	status, _ := res[0].(int64)
	switch status {
	case -2:
		return 0, "", apierrors.ErrNoCreditRecord.WithDetails("no balance for " + username + " in group " + group)
	case -1:
		return 0, "", apierrors.ErrNoCredits
	}
	remaining, _ := res[1].(int64)
	doc, _ := res[2].(string)
	return remaining, gjson.Get(doc, "user_api_key").String(), nil
}

// resolveKeys picks the upstream key material for the request. A per-user
// key overrides the group keys entirely; otherwise the definition's live
// keys apply, both of them while a rotation overlap is running.
func (s *Service) resolveKeys(def *model.CreditDef, userKey string) []string {
	if userKey != "" {
		return []string{s.unseal(userKey)}
	}
	stored := def.ActiveKeys(time.Now().UTC())
	keys := make([]string, 0, len(stored))
	for _, k := range stored {
		keys = append(keys, s.unseal(k))
	}
	return keys
}

// unseal decrypts a stored key. Values written before sealing was enabled
// fail to open and are forwarded as stored.
func (s *Service) unseal(v string) string {
	if s.sealer == nil || v == "" {
		return v
	}
	plain, err := s.sealer.Open(v)
	if err != nil {
		logging.Warn("credit key unseal failed, forwarding stored value", zap.Error(err))
		return v
	}
	return plain
}

// Seal encrypts a key for storage, passing it through when no sealer is
// configured.
func (s *Service) Seal(plain string) (string, error) {
	if s.sealer == nil || plain == "" {
		return plain, nil
	}
	return s.sealer.Seal(plain)
}

// Balance reads the remaining credits without spending any.
func (s *Service) Balance(ctx context.Context, username, group string) (int64, error) {
	uc, err := s.cat.UserCreditsFor(ctx, username, group)
	if err != nil {
		return 0, err
	}
	if uc == nil {
		return 0, apierrors.ErrNoCreditRecord.WithDetails("no balance for " + username + " in group " + group)
	}
	return uc.AvailableCredits, nil
}

// TotalDeducted reports credits spent since start.
func (s *Service) TotalDeducted() int64 { return s.deducted.Load() }

// TotalRejected reports requests refused for want of credits.
func (s *Service) TotalRejected() int64 { return s.rejected.Load() }
