package catalog

import (
	"context"
	"errors"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func creditDefCacheKey(group string) string { return cache.Key("creditdef", group) }

// UserCreditsID is the deterministic _id of a (username, group) balance
// document. Fixing the _id lets the external backend address the document
// directly inside atomic deduction scripts.
func UserCreditsID(username, group string) string {
	return username + ":" + group
}

// CreateCreditDef registers a credit group definition. Keys must already be
// sealed by the credit service.
func (c *Catalog) CreateCreditDef(ctx context.Context, def *model.CreditDef) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	q := store.Query{"api_credit_group": def.APICreditGroup}
	taken, err := c.exists(ctx, model.CollectionCreditDefs, q)
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails("credit group " + def.APICreditGroup)
	}

	def.CreatedAt = now()
	def.UpdatedAt = def.CreatedAt
	doc, err := store.Encode(def)
	if err != nil {
		return err
	}
	_, err = c.store.Collection(model.CollectionCreditDefs).InsertOne(ctx, doc)
	return err
}

// CreditDefByGroup fetches one definition through the cache.
func (c *Catalog) CreditDefByGroup(ctx context.Context, group string) (*model.CreditDef, error) {
	return findCached[model.CreditDef](ctx, c, creditDefCacheKey(group),
		model.CollectionCreditDefs, store.Query{"api_credit_group": group})
}

// ListCreditDefs returns one page of definitions.
func (c *Catalog) ListCreditDefs(ctx context.Context, page, pageSize int) ([]model.CreditDef, error) {
	return listPage[model.CreditDef](ctx, c, model.CollectionCreditDefs, store.Query{}, page, pageSize)
}

// UpdateCreditDef applies a partial update. The group name is immutable.
func (c *Catalog) UpdateCreditDef(ctx context.Context, group string, changes store.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	update := stripProtected(changes, "api_credit_group")
	ok, err := c.store.Collection(model.CollectionCreditDefs).UpdateOne(ctx,
		store.Query{"api_credit_group": group}, update)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("credit group " + group)
	}
	c.cache.Delete(creditDefCacheKey(group))
	return nil
}

// DeleteCreditDef removes a definition and every user balance under it.
func (c *Catalog) DeleteCreditDef(ctx context.Context, group string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ok, err := c.store.Collection(model.CollectionCreditDefs).DeleteOne(ctx,
		store.Query{"api_credit_group": group})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("credit group " + group)
	}
	if _, err := c.deleteAll(ctx, model.CollectionUserCredits,
		store.Query{"api_credit_group": group}); err != nil {
		return err
	}
	c.cache.Delete(creditDefCacheKey(group))
	return nil
}

// SetUserCredits upserts a user's balance inside a credit group.
func (c *Catalog) SetUserCredits(ctx context.Context, uc *model.UserCredits) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	defExists, err := c.exists(ctx, model.CollectionCreditDefs,
		store.Query{"api_credit_group": uc.APICreditGroup})
	if err != nil {
		return err
	}
	if !defExists {
		return apierrors.ErrResourceNotFound.WithDetails("credit group " + uc.APICreditGroup)
	}

	uc.UpdatedAt = now()
	doc, err := store.Encode(uc)
	if err != nil {
		return err
	}
	doc["_id"] = UserCreditsID(uc.Username, uc.APICreditGroup)
	delete(doc, "created_at")

	col := c.store.Collection(model.CollectionUserCredits)
	q := store.Query{"username": uc.Username, "api_credit_group": uc.APICreditGroup}
	ok, err := col.UpdateOne(ctx, q, doc)
	if err != nil {
		return err
	}
	if !ok {
		doc["created_at"] = uc.UpdatedAt
		_, err = col.InsertOne(ctx, doc)
	}
	return err
}

// UserCreditsFor fetches one balance document. Uncached: the deduction
// path needs the live count.
func (c *Catalog) UserCreditsFor(ctx context.Context, username, group string) (*model.UserCredits, error) {
	doc, err := c.store.Collection(model.CollectionUserCredits).FindOne(ctx,
		store.Query{"username": username, "api_credit_group": group})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	uc := new(model.UserCredits)
	if err := store.Decode(doc, uc); err != nil {
		return nil, err
	}
	return uc, nil
}

// UserCreditsForUser returns one page of a user's balances across groups.
func (c *Catalog) UserCreditsForUser(ctx context.Context, username string, page, pageSize int) ([]model.UserCredits, error) {
	return listPage[model.UserCredits](ctx, c, model.CollectionUserCredits,
		store.Query{"username": username}, page, pageSize)
}

// DeleteUserCredits removes one balance document.
func (c *Catalog) DeleteUserCredits(ctx context.Context, username, group string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ok, err := c.store.Collection(model.CollectionUserCredits).DeleteOne(ctx,
		store.Query{"username": username, "api_credit_group": group})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails(
			"credits " + username + " " + group)
	}
	return nil
}
