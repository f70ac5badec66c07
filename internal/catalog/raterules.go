package catalog

import (
	"context"
	"errors"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func rateRuleCacheKey(name string) string { return cache.Key("raterule", name) }

func apiRulesCacheKey(name, version string) string {
	return cache.Key("apirules", name+"/"+version)
}

// CreateRateRule registers a throttle rule on an existing API version.
func (c *Catalog) CreateRateRule(ctx context.Context, rule *model.RateRule) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	taken, err := c.exists(ctx, model.CollectionRateRules, store.Query{"rule_name": rule.RuleName})
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails("rate rule " + rule.RuleName)
	}
	apiExists, err := c.exists(ctx, model.CollectionAPIs,
		store.Query{"api_name": rule.APIName, "api_version": rule.APIVersion})
	if err != nil {
		return err
	}
	if !apiExists {
		return apierrors.ErrResourceNotFound.WithDetails("api " + rule.APIName + "/" + rule.APIVersion)
	}

	rule.CreatedAt = now()
	rule.UpdatedAt = rule.CreatedAt
	doc, err := store.Encode(rule)
	if err != nil {
		return err
	}
	if _, err := c.store.Collection(model.CollectionRateRules).InsertOne(ctx, doc); err != nil {
		return err
	}
	c.cache.Delete(apiRulesCacheKey(rule.APIName, rule.APIVersion))
	return nil
}

// RateRuleByName fetches one rule through the cache.
func (c *Catalog) RateRuleByName(ctx context.Context, name string) (*model.RateRule, error) {
	return findCached[model.RateRule](ctx, c, rateRuleCacheKey(name),
		model.CollectionRateRules, store.Query{"rule_name": name})
}

// RateRulesForAPI returns the active rules bound to one API version. The
// slice is cached; rule writes invalidate it.
func (c *Catalog) RateRulesForAPI(ctx context.Context, apiName, apiVersion string) ([]model.RateRule, error) {
	key := apiRulesCacheKey(apiName, apiVersion)
	if rules, ok := cache.GetAs[[]model.RateRule](c.cache, key); ok {
		return rules, nil
	}
	docs, err := c.store.Collection(model.CollectionRateRules).Find(ctx,
		store.Query{"api_name": apiName, "api_version": apiVersion, "active": true}).All(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := store.DecodeAll[model.RateRule](docs)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, rules)
	return rules, nil
}

// ListRateRules returns one page of rules.
func (c *Catalog) ListRateRules(ctx context.Context, page, pageSize int) ([]model.RateRule, error) {
	return listPage[model.RateRule](ctx, c, model.CollectionRateRules, store.Query{}, page, pageSize)
}

// UpdateRateRule applies a partial update. The rule name and API binding
// are immutable.
func (c *Catalog) UpdateRateRule(ctx context.Context, name string, changes store.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	rule, err := c.rateRuleUncached(ctx, name)
	if err != nil {
		return err
	}
	if rule == nil {
		return apierrors.ErrResourceNotFound.WithDetails("rate rule " + name)
	}
	update := stripProtected(changes, "rule_name", "api_name", "api_version")
	if _, err := c.store.Collection(model.CollectionRateRules).UpdateOne(ctx,
		store.Query{"rule_name": name}, update); err != nil {
		return err
	}
	c.cache.Delete(rateRuleCacheKey(name))
	c.cache.Delete(apiRulesCacheKey(rule.APIName, rule.APIVersion))
	return nil
}

// DeleteRateRule removes a rule.
func (c *Catalog) DeleteRateRule(ctx context.Context, name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	rule, err := c.rateRuleUncached(ctx, name)
	if err != nil {
		return err
	}
	if rule == nil {
		return apierrors.ErrResourceNotFound.WithDetails("rate rule " + name)
	}
	if _, err := c.store.Collection(model.CollectionRateRules).DeleteOne(ctx,
		store.Query{"rule_name": name}); err != nil {
		return err
	}
	c.cache.Delete(rateRuleCacheKey(name))
	c.cache.Delete(apiRulesCacheKey(rule.APIName, rule.APIVersion))
	return nil
}

// rateRuleUncached reads the stored rule so writes can invalidate the API
// binding it actually holds, not the one the caller claims.
func (c *Catalog) rateRuleUncached(ctx context.Context, name string) (*model.RateRule, error) {
	doc, err := c.store.Collection(model.CollectionRateRules).FindOne(ctx,
		store.Query{"rule_name": name})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rule := new(model.RateRule)
	if err := store.Decode(doc, rule); err != nil {
		return nil, err
	}
	return rule, nil
}
