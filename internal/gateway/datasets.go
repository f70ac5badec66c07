package gateway

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func (g *Gateway) handleCreateDataset(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var ds model.Dataset
	if err := readJSON(r, &ds); err != nil {
		writeError(w, r, err)
		return
	}
	if ds.DatasetName == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("dataset_name is required"))
		return
	}
	for _, f := range ds.Fields {
		if f.FieldName == "" {
			writeError(w, r, apierrors.ErrValidationFailed.WithDetails("field_name is required"))
			return
		}
		switch f.FieldType {
		case "string", "number", "boolean":
		default:
			writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
				f.FieldName+": field_type must be string, number, or boolean"))
			return
		}
	}
	if err := g.catalog.CreateDataset(r.Context(), &ds); err != nil {
		writeError(w, r, err)
		return
	}
	logging.Info("dataset created",
		zap.String("request_id", requestID(r)),
		zap.String("dataset", ds.DatasetName),
		zap.String("by", p.Username))
	writeStatus(w, r, http.StatusCreated, ds)
}

func (g *Gateway) handleListDatasets(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	datasets, err := g.catalog.ListDatasets(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"datasets": datasets})
}

func (g *Gateway) handleGetDataset(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	name := param(r, "name")
	ds, err := g.catalog.DatasetByName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ds == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("dataset "+name))
		return
	}
	writeOK(w, r, ds)
}

func (g *Gateway) handleDeleteDataset(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	name := param(r, "name")
	if err := g.catalog.DeleteDataset(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	logging.Info("dataset deleted",
		zap.String("request_id", requestID(r)),
		zap.String("dataset", name),
		zap.String("by", p.Username))
	writeMessage(w, r, http.StatusOK, "Dataset deleted")
}

func (g *Gateway) handleInsertRow(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var row store.Document
	if err := readJSON(r, &row); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := g.catalog.InsertRow(r.Context(), param(r, "name"), row)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, map[string]any{"row_id": id})
}

func (g *Gateway) handleListRows(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	rows, err := g.catalog.ListRows(r.Context(), param(r, "name"), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.Document{}
	}
	writeOK(w, r, map[string]any{"rows": rows})
}

func (g *Gateway) handleDeleteRow(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if err := g.catalog.DeleteRow(r.Context(), param(r, "name"), param(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Row deleted")
}

// configExport is the wire shape of a full config backup. Collections carry
// raw documents so dataset rows survive without a registered schema.
type configExport struct {
	ExportedAt  time.Time                   `json:"exported_at"`
	Collections map[string][]store.Document `json:"collections"`
}

func (g *Gateway) handleExportConfig(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	names, err := g.store.Collections(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := configExport{
		ExportedAt:  time.Now().UTC(),
		Collections: make(map[string][]store.Document, len(names)),
	}
	for _, name := range names {
		docs, err := g.store.Collection(name).Find(ctx, store.Query{}).All(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if docs == nil {
			docs = []store.Document{}
		}
		out.Collections[name] = docs
	}
	logging.Info("config exported",
		zap.String("request_id", requestID(r)),
		zap.Int("collections", len(out.Collections)),
		zap.String("by", p.Username))
	writeOK(w, r, out)
}

func (g *Gateway) handleImportConfig(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var in configExport
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if len(in.Collections) == 0 {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("no collections to import"))
		return
	}

	ctx := r.Context()
	counts := make(map[string]int, len(in.Collections))
	total := 0
	for name, docs := range in.Collections {
		col := g.store.Collection(name)
		for _, doc := range docs {
			if _, err := col.InsertOne(ctx, doc); err != nil {
				writeError(w, r, err)
				return
			}
			counts[name]++
			total++
		}
	}
	g.catalog.PurgeCache()

	logging.Info("config imported",
		zap.String("request_id", requestID(r)),
		zap.Int("collections", len(counts)),
		zap.Int("documents", total),
		zap.String("by", p.Username))
	writeOK(w, r, map[string]any{
		"collections": counts,
		"total":       total,
	})
}

func (g *Gateway) registerDatasetRoutes(static, params *routerTree) {
	static.handle(http.MethodPost, "/platform/config/dataset",
		g.guarded(model.PermManageGateway, g.handleCreateDataset))
	static.handle(http.MethodGet, "/platform/config/dataset/all",
		g.guarded(model.PermManageGateway, g.handleListDatasets))
	static.handle(http.MethodGet, "/platform/config/export",
		g.guarded(model.PermManageGateway, g.handleExportConfig))
	static.handle(http.MethodPost, "/platform/config/import",
		g.guarded(model.PermManageGateway, g.handleImportConfig))

	params.handle(http.MethodGet, "/platform/config/dataset/:name",
		g.guarded(model.PermManageGateway, g.handleGetDataset))
	params.handle(http.MethodDelete, "/platform/config/dataset/:name",
		g.guarded(model.PermManageGateway, g.handleDeleteDataset))
	params.handle(http.MethodPost, "/platform/config/dataset/:name/row",
		g.guarded(model.PermManageGateway, g.handleInsertRow))
	params.handle(http.MethodGet, "/platform/config/dataset/:name/rows",
		g.guarded(model.PermManageGateway, g.handleListRows))
	params.handle(http.MethodDelete, "/platform/config/dataset/:name/row/:id",
		g.guarded(model.PermManageGateway, g.handleDeleteRow))
}
