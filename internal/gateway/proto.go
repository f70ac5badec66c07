package gateway

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/model"
)

// handleUploadProto accepts one .proto file as multipart form data,
// stores it under the API version's source directory, and compiles the
// accumulated sources into dispatchable method descriptors.
func (g *Gateway) handleUploadProto(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	name, version := param(r, "name"), param(r, "version")

	r.Body = http.MaxBytesReader(w, r.Body, g.cfg.Limits.MaxMultipartSizeBytes)
	if err := r.ParseMultipartForm(g.cfg.Limits.MaxMultipartSizeBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, r, apierrors.ErrBodyTooLarge)
			return
		}
		writeError(w, r, apierrors.ErrMalformedBody.WithDetails("expected multipart/form-data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apierrors.ErrMalformedBody.WithDetails("file field is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	path, err := g.protos.SaveSource(name, version, header.Filename, content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := g.protos.Compile(r.Context(), name, version); err != nil {
		writeError(w, r, err)
		return
	}

	logging.Info("proto uploaded",
		zap.String("request_id", requestID(r)),
		zap.String("api", name+"/"+version),
		zap.String("file", header.Filename),
		zap.String("by", p.Username))
	writeStatus(w, r, http.StatusCreated, map[string]any{
		"api_name":    name,
		"api_version": version,
		"path":        path,
		"methods":     g.protos.Methods(name, version),
	})
}

func (g *Gateway) handleListProtoMethods(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	name, version := param(r, "name"), param(r, "version")
	methods := g.protos.Methods(name, version)
	if methods == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails(
			"no descriptors uploaded for "+name+"/"+version))
		return
	}
	writeOK(w, r, map[string]any{
		"api_name":    name,
		"api_version": version,
		"methods":     methods,
	})
}

func (g *Gateway) handleDeleteProto(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	name, version := param(r, "name"), param(r, "version")
	if err := g.protos.Remove(name, version); err != nil {
		writeError(w, r, err)
		return
	}
	logging.Info("proto removed",
		zap.String("request_id", requestID(r)),
		zap.String("api", name+"/"+version),
		zap.String("by", p.Username))
	writeMessage(w, r, http.StatusOK, "Proto sources removed")
}

func (g *Gateway) registerProtoRoutes(params *routerTree) {
	params.handle(http.MethodPost, "/platform/proto/:name/:version",
		g.guarded(model.PermManageAPIs, g.handleUploadProto))
	params.handle(http.MethodGet, "/platform/proto/:name/:version",
		g.guarded(model.PermManageAPIs, g.handleListProtoMethods))
	params.handle(http.MethodDelete, "/platform/proto/:name/:version",
		g.guarded(model.PermManageAPIs, g.handleDeleteProto))
}
