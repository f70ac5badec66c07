package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

// securitySettingsID is the fixed _id of the singleton settings document.
const securitySettingsID = "security"

func settingsCacheKey() string           { return "settings:security" }
func datasetCacheKey(name string) string { return cache.Key("dataset", name) }

// SecuritySettings returns the stored settings, or the defaults when none
// have been written yet.
func (c *Catalog) SecuritySettings(ctx context.Context) (*model.SecuritySettings, error) {
	if v, ok := cache.GetAs[*model.SecuritySettings](c.cache, settingsCacheKey()); ok {
		return v, nil
	}
	doc, err := c.store.Collection(model.CollectionSettings).FindOne(ctx,
		store.Query{"_id": securitySettingsID})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.DefaultSecuritySettings(), nil
		}
		return nil, err
	}
	s := new(model.SecuritySettings)
	if err := store.Decode(doc, s); err != nil {
		return nil, err
	}
	c.cache.Set(settingsCacheKey(), s)
	return s, nil
}

// UpdateSecuritySettings merges a partial update into the settings
// document, creating it from defaults on first write. Returns the merged
// settings.
func (c *Catalog) UpdateSecuritySettings(ctx context.Context, changes store.Document) (*model.SecuritySettings, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	update := stripProtected(changes)
	col := c.store.Collection(model.CollectionSettings)
	ok, err := col.UpdateOne(ctx, store.Query{"_id": securitySettingsID}, update)
	if err != nil {
		return nil, err
	}
	if !ok {
		doc, err := store.Encode(model.DefaultSecuritySettings())
		if err != nil {
			return nil, err
		}
		for k, v := range update {
			doc[k] = v
		}
		doc["_id"] = securitySettingsID
		if _, err := col.InsertOne(ctx, doc); err != nil {
			return nil, err
		}
	}
	c.cache.Delete(settingsCacheKey())
	return c.SecuritySettings(ctx)
}

// CreateDataset registers a dataset schema. Row collections materialize on
// first insert.
func (c *Catalog) CreateDataset(ctx context.Context, ds *model.Dataset) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	taken, err := c.exists(ctx, model.CollectionDatasets,
		store.Query{"dataset_name": ds.DatasetName})
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails("dataset " + ds.DatasetName)
	}

	ds.CreatedAt = now()
	ds.UpdatedAt = ds.CreatedAt
	doc, err := store.Encode(ds)
	if err != nil {
		return err
	}
	_, err = c.store.Collection(model.CollectionDatasets).InsertOne(ctx, doc)
	return err
}

// DatasetByName fetches one dataset schema through the cache.
func (c *Catalog) DatasetByName(ctx context.Context, name string) (*model.Dataset, error) {
	return findCached[model.Dataset](ctx, c, datasetCacheKey(name),
		model.CollectionDatasets, store.Query{"dataset_name": name})
}

// ListDatasets returns one page of dataset schemas.
func (c *Catalog) ListDatasets(ctx context.Context, page, pageSize int) ([]model.Dataset, error) {
	return listPage[model.Dataset](ctx, c, model.CollectionDatasets, store.Query{}, page, pageSize)
}

// DeleteDataset removes a dataset schema and drops its row collection.
func (c *Catalog) DeleteDataset(ctx context.Context, name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ok, err := c.store.Collection(model.CollectionDatasets).DeleteOne(ctx,
		store.Query{"dataset_name": name})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("dataset " + name)
	}
	ds := &model.Dataset{DatasetName: name}
	if err := c.store.Collection(ds.Collection()).Drop(ctx); err != nil {
		return err
	}
	c.cache.Delete(datasetCacheKey(name))
	return nil
}

// validateRow checks a row against the dataset schema: required fields
// present, declared types respected. The first violation is reported with
// its field name.
func validateRow(ds *model.Dataset, row store.Document) error {
	for _, f := range ds.Fields {
		v, present := row[f.FieldName]
		if !present || v == nil {
			if f.Required {
				return apierrors.ErrValidationFailed.WithDetails(f.FieldName + ": required")
			}
			continue
		}
		switch f.FieldType {
		case "string":
			if _, ok := v.(string); !ok {
				return apierrors.ErrValidationFailed.WithDetails(f.FieldName + ": expected string")
			}
		case "number":
			switch v.(type) {
			case float64, int, int64:
			default:
				return apierrors.ErrValidationFailed.WithDetails(f.FieldName + ": expected number")
			}
		case "boolean":
			if _, ok := v.(bool); !ok {
				return apierrors.ErrValidationFailed.WithDetails(f.FieldName + ": expected boolean")
			}
		}
	}
	return nil
}

// InsertRow validates and stores one row in the dataset's collection.
func (c *Catalog) InsertRow(ctx context.Context, datasetName string, row store.Document) (string, error) {
	ds, err := c.DatasetByName(ctx, datasetName)
	if err != nil {
		return "", err
	}
	if ds == nil {
		return "", apierrors.ErrResourceNotFound.WithDetails("dataset " + datasetName)
	}
	if err := validateRow(ds, row); err != nil {
		return "", err
	}
	cp := make(store.Document, len(row)+1)
	for k, v := range row {
		cp[k] = v
	}
	delete(cp, "_id")
	cp["created_at"] = now()
	return c.store.Collection(ds.Collection()).InsertOne(ctx, cp)
}

// ListRows returns one page of dataset rows.
func (c *Catalog) ListRows(ctx context.Context, datasetName string, page, pageSize int) ([]store.Document, error) {
	ds, err := c.DatasetByName(ctx, datasetName)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, apierrors.ErrResourceNotFound.WithDetails("dataset " + datasetName)
	}
	skip, limit := c.Window(page, pageSize)
	return c.store.Collection(ds.Collection()).Find(ctx, store.Query{}).Skip(skip).Limit(limit).All(ctx)
}

// DeleteRow removes one row by _id.
func (c *Catalog) DeleteRow(ctx context.Context, datasetName, rowID string) error {
	ds, err := c.DatasetByName(ctx, datasetName)
	if err != nil {
		return err
	}
	if ds == nil {
		return apierrors.ErrResourceNotFound.WithDetails("dataset " + datasetName)
	}
	ok, err := c.store.Collection(ds.Collection()).DeleteOne(ctx, store.Query{"_id": rowID})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails(fmt.Sprintf("row %s in dataset %s", rowID, datasetName))
	}
	return nil
}
