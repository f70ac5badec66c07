package catalog

import (
	"context"
	"errors"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func userCacheKey(username string) string { return cache.Key("user", username) }
func roleCacheKey(name string) string     { return cache.Key("role", name) }
func groupCacheKey(name string) string    { return cache.Key("group", name) }

func subCacheKey(username, apiKey string) string {
	return cache.Key("sub", username, apiKey)
}

// CreateUser stores a new account. Password must already be hashed.
// Username and email are both unique.
func (c *Catalog) CreateUser(ctx context.Context, user *model.User) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	taken, err := c.exists(ctx, model.CollectionUsers, store.Query{"username": user.Username})
	if err != nil {
		return err
	}
	if !taken {
		taken, err = c.exists(ctx, model.CollectionUsers, store.Query{"email": user.Email})
		if err != nil {
			return err
		}
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails("user " + user.Username)
	}

	user.CreatedAt = now()
	user.UpdatedAt = user.CreatedAt
	doc, err := store.Encode(user)
	if err != nil {
		return err
	}
	_, err = c.store.Collection(model.CollectionUsers).InsertOne(ctx, doc)
	return err
}

// UserByUsername fetches one account through the cache.
func (c *Catalog) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	return findCached[model.User](ctx, c, userCacheKey(username), model.CollectionUsers,
		store.Query{"username": username})
}

// UserByEmail fetches one account by email. Uncached: the only hot caller
// is login, where bcrypt dominates.
func (c *Catalog) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	doc, err := c.store.Collection(model.CollectionUsers).FindOne(ctx, store.Query{"email": email})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	user := new(model.User)
	if err := store.Decode(doc, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CountUsers returns the total account count.
func (c *Catalog) CountUsers(ctx context.Context) (int64, error) {
	return c.store.Collection(model.CollectionUsers).Count(ctx, store.Query{})
}

// ListUsers returns one page of accounts.
func (c *Catalog) ListUsers(ctx context.Context, page, pageSize int) ([]model.User, error) {
	return listPage[model.User](ctx, c, model.CollectionUsers, store.Query{}, page, pageSize)
}

// UpdateUser applies a partial update. Username is immutable; password
// changes must arrive pre-hashed.
func (c *Catalog) UpdateUser(ctx context.Context, username string, changes store.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	update := stripProtected(changes, "username")
	ok, err := c.store.Collection(model.CollectionUsers).UpdateOne(ctx,
		store.Query{"username": username}, update)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("user " + username)
	}
	c.cache.Delete(userCacheKey(username))
	return nil
}

// DeleteUser removes an account together with its subscriptions and credit
// balances.
func (c *Catalog) DeleteUser(ctx context.Context, username string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ok, err := c.store.Collection(model.CollectionUsers).DeleteOne(ctx,
		store.Query{"username": username})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("user " + username)
	}
	if _, err := c.deleteAll(ctx, model.CollectionSubscriptions, store.Query{"username": username}); err != nil {
		return err
	}
	if _, err := c.deleteAll(ctx, model.CollectionUserCredits, store.Query{"username": username}); err != nil {
		return err
	}
	c.cache.Delete(userCacheKey(username))
	c.cache.DeleteByPrefix(cache.Key("sub", username))
	return nil
}

// CreateRole registers a new role document.
func (c *Catalog) CreateRole(ctx context.Context, role *model.Role) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	taken, err := c.exists(ctx, model.CollectionRoles, store.Query{"role_name": role.RoleName})
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails("role " + role.RoleName)
	}
	return c.insertRole(ctx, role)
}

// EnsureRole creates the role when absent. Used by admin seeding.
func (c *Catalog) EnsureRole(ctx context.Context, role *model.Role) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	taken, err := c.exists(ctx, model.CollectionRoles, store.Query{"role_name": role.RoleName})
	if err != nil || taken {
		return err
	}
	return c.insertRole(ctx, role)
}

func (c *Catalog) insertRole(ctx context.Context, role *model.Role) error {
	role.CreatedAt = now()
	role.UpdatedAt = role.CreatedAt
	doc, err := store.Encode(role)
	if err != nil {
		return err
	}
	_, err = c.store.Collection(model.CollectionRoles).InsertOne(ctx, doc)
	return err
}

// RoleByName fetches one role through the cache.
func (c *Catalog) RoleByName(ctx context.Context, name string) (*model.Role, error) {
	return findCached[model.Role](ctx, c, roleCacheKey(name), model.CollectionRoles,
		store.Query{"role_name": name})
}

// ListRoles returns one page of roles.
func (c *Catalog) ListRoles(ctx context.Context, page, pageSize int) ([]model.Role, error) {
	return listPage[model.Role](ctx, c, model.CollectionRoles, store.Query{}, page, pageSize)
}

// UpdateRole applies a partial update. The admin-role write guard runs in
// the authorization layer before this is reached.
func (c *Catalog) UpdateRole(ctx context.Context, name string, changes store.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	update := stripProtected(changes, "role_name")
	ok, err := c.store.Collection(model.CollectionRoles).UpdateOne(ctx,
		store.Query{"role_name": name}, update)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("role " + name)
	}
	c.cache.Delete(roleCacheKey(name))
	return nil
}

// DeleteRole removes a role. The admin role and roles still assigned to
// users are refused.
func (c *Catalog) DeleteRole(ctx context.Context, name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if name == model.AdminRoleName {
		return apierrors.ErrAdminRoleProtected
	}
	inUse, err := c.exists(ctx, model.CollectionUsers, store.Query{"role": name})
	if err != nil {
		return err
	}
	if inUse {
		return apierrors.ErrResourceExists.WithDetails("role " + name + " is assigned to users")
	}
	ok, err := c.store.Collection(model.CollectionRoles).DeleteOne(ctx,
		store.Query{"role_name": name})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("role " + name)
	}
	c.cache.Delete(roleCacheKey(name))
	return nil
}

// CreateGroup registers a new group document.
func (c *Catalog) CreateGroup(ctx context.Context, group *model.Group) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	taken, err := c.exists(ctx, model.CollectionGroups, store.Query{"group_name": group.GroupName})
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails("group " + group.GroupName)
	}

	group.CreatedAt = now()
	group.UpdatedAt = group.CreatedAt
	doc, err := store.Encode(group)
	if err != nil {
		return err
	}
	_, err = c.store.Collection(model.CollectionGroups).InsertOne(ctx, doc)
	return err
}

// GroupByName fetches one group through the cache.
func (c *Catalog) GroupByName(ctx context.Context, name string) (*model.Group, error) {
	return findCached[model.Group](ctx, c, groupCacheKey(name), model.CollectionGroups,
		store.Query{"group_name": name})
}

// GroupsForUser resolves a user's group names to documents. Unknown names
// are skipped; the built-in ALL membership carries no grants of its own.
func (c *Catalog) GroupsForUser(ctx context.Context, user *model.User) ([]*model.Group, error) {
	groups := make([]*model.Group, 0, len(user.Groups))
	for _, name := range user.Groups {
		g, err := c.GroupByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if g != nil {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// ListGroups returns one page of groups.
func (c *Catalog) ListGroups(ctx context.Context, page, pageSize int) ([]model.Group, error) {
	return listPage[model.Group](ctx, c, model.CollectionGroups, store.Query{}, page, pageSize)
}

// UpdateGroup applies a partial update. Group name is immutable.
func (c *Catalog) UpdateGroup(ctx context.Context, name string, changes store.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	update := stripProtected(changes, "group_name")
	ok, err := c.store.Collection(model.CollectionGroups).UpdateOne(ctx,
		store.Query{"group_name": name}, update)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("group " + name)
	}
	c.cache.Delete(groupCacheKey(name))
	return nil
}

// DeleteGroup removes a group still referenced by no user.
func (c *Catalog) DeleteGroup(ctx context.Context, name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	users, err := c.store.Collection(model.CollectionUsers).Find(ctx, store.Query{}).All(ctx)
	if err != nil {
		return err
	}
	for _, doc := range users {
		members, _ := doc["groups"].([]any)
		for _, m := range members {
			if m == name {
				username, _ := doc["username"].(string)
				return apierrors.ErrResourceExists.WithDetails(
					"group " + name + " has member " + username)
			}
		}
	}

	ok, err := c.store.Collection(model.CollectionGroups).DeleteOne(ctx,
		store.Query{"group_name": name})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("group " + name)
	}
	c.cache.Delete(groupCacheKey(name))
	return nil
}

// Subscribe records a user's access to one API version. Both sides must
// exist; duplicates are refused.
func (c *Catalog) Subscribe(ctx context.Context, username, apiName, apiVersion string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	userExists, err := c.exists(ctx, model.CollectionUsers, store.Query{"username": username})
	if err != nil {
		return err
	}
	if !userExists {
		return apierrors.ErrResourceNotFound.WithDetails("user " + username)
	}
	apiExists, err := c.exists(ctx, model.CollectionAPIs,
		store.Query{"api_name": apiName, "api_version": apiVersion})
	if err != nil {
		return err
	}
	if !apiExists {
		return apierrors.ErrResourceNotFound.WithDetails("api " + apiName + "/" + apiVersion)
	}

	q := store.Query{"username": username, "api_name": apiName, "api_version": apiVersion}
	taken, err := c.exists(ctx, model.CollectionSubscriptions, q)
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails(
			"subscription " + username + " " + apiName + "/" + apiVersion)
	}

	sub := &model.Subscription{
		Username:   username,
		APIName:    apiName,
		APIVersion: apiVersion,
		CreatedAt:  now(),
	}
	doc, err := store.Encode(sub)
	if err != nil {
		return err
	}
	_, err = c.store.Collection(model.CollectionSubscriptions).InsertOne(ctx, doc)
	return err
}

// Unsubscribe removes a subscription.
func (c *Catalog) Unsubscribe(ctx context.Context, username, apiName, apiVersion string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	q := store.Query{"username": username, "api_name": apiName, "api_version": apiVersion}
	ok, err := c.store.Collection(model.CollectionSubscriptions).DeleteOne(ctx, q)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails(
			"subscription " + username + " " + apiName + "/" + apiVersion)
	}
	c.cache.Delete(subCacheKey(username, apiName+"/"+apiVersion))
	return nil
}

// IsSubscribed reports whether the user holds a subscription to the API
// version. Positive answers are cached.
func (c *Catalog) IsSubscribed(ctx context.Context, username, apiName, apiVersion string) (bool, error) {
	sub, err := findCached[model.Subscription](ctx, c,
		subCacheKey(username, apiName+"/"+apiVersion), model.CollectionSubscriptions,
		store.Query{"username": username, "api_name": apiName, "api_version": apiVersion})
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

// SubscriptionsForUser returns one page of a user's subscriptions.
func (c *Catalog) SubscriptionsForUser(ctx context.Context, username string, page, pageSize int) ([]model.Subscription, error) {
	return listPage[model.Subscription](ctx, c, model.CollectionSubscriptions,
		store.Query{"username": username}, page, pageSize)
}
