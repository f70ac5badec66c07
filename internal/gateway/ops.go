package gateway

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	"github.com/apidoorman/doorman-sub003/internal/chaos"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

// errMemoryModeOnly rejects snapshot routes when the external backend
// holds the state.
var errMemoryModeOnly = apierrors.New(http.StatusBadRequest, "GTW998",
	"memory snapshots are only available in MEM mode")

func (g *Gateway) handleGetSecurity(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	settings, err := g.catalog.SecuritySettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, settings)
}

func (g *Gateway) handleUpdateSecurity(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	settings, err := g.catalog.UpdateSecuritySettings(r.Context(), changes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.Info("security settings updated",
		zap.String("request_id", requestID(r)),
		zap.String("by", p.Username))
	writeOK(w, r, settings)
}

type chaosToggleRequest struct {
	Backend    string `json:"backend"`
	Enabled    bool   `json:"enabled"`
	DurationMs int64  `json:"duration_ms"`
}

func (g *Gateway) handleChaosToggle(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var req chaosToggleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !chaos.ValidBackend(req.Backend) {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
			"backend must be redis, mongo, or memory"))
		return
	}
	if req.DurationMs < 0 {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
			"duration_ms must not be negative"))
		return
	}

	g.chaos.Toggle(req.Backend, req.Enabled, time.Duration(req.DurationMs)*time.Millisecond)
	logging.Warn("chaos toggle flipped",
		zap.String("request_id", requestID(r)),
		zap.String("backend", req.Backend),
		zap.Bool("enabled", req.Enabled),
		zap.Int64("duration_ms", req.DurationMs),
		zap.String("by", p.Username))
	writeOK(w, r, map[string]any{
		"backend":           req.Backend,
		"enabled":           req.Enabled,
		"duration_ms":       req.DurationMs,
		"error_budget_burn": g.chaos.Burn(),
	})
}

func (g *Gateway) handleChaosStatus(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	writeOK(w, r, map[string]any{
		"backends":          g.chaos.Snapshot(),
		"error_budget_burn": g.chaos.Burn(),
	})
}

func (g *Gateway) handleMonitorMetrics(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	protocols := make([]any, 0, len(g.dispatchers))
	for _, d := range g.dispatchers {
		protocols = append(protocols, d.Stats())
	}
	writeOK(w, r, map[string]any{
		"metrics":   g.metrics.Snapshot(),
		"protocols": protocols,
		"cache":     g.catalog.CacheStats(),
		"permissions": map[string]int64{
			"checks": g.authz.TotalChecks(),
			"denied": g.authz.TotalDenied(),
		},
	})
}

func (g *Gateway) handleMonitorLiveness(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, map[string]any{"status": "alive"})
}

func (g *Gateway) handleMonitorReadiness(w http.ResponseWriter, r *http.Request) {
	ready, checks := g.checker.Ready(r.Context())
	status := "ready"
	if !ready {
		status = "degraded"
	}
	writeOK(w, r, map[string]any{"status": status, "checks": checks})
}

func (g *Gateway) handleGetLogs(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	lines := g.logBuffer.Lines()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}
	writeOK(w, r, map[string]any{"lines": lines, "count": len(lines)})
}

// handleExportLogs streams the buffer as a plain-text download. This is
// the one platform route that skips the JSON envelope.
func (g *Gateway) handleExportLogs(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	lines := g.logBuffer.Lines()
	name := "doorman-logs-" + time.Now().UTC().Format("20060102T150405") + ".log"

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		w.Write([]byte(line))
		w.Write([]byte("\n"))
	}

	logging.Info("logs exported",
		zap.String("request_id", requestID(r)),
		zap.Int("lines", len(lines)),
		zap.String("by", p.Username))
}

func (g *Gateway) handleMemoryStatus(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	payload := map[string]any{
		"mode":               g.cfg.Store.Mode,
		"snapshots_enabled":  g.snapshotter != nil,
		"auto_save_enabled":  false,
		"auto_save_interval": 0,
	}
	if g.snapshotter != nil {
		enabled, every := g.autoSaveSettings()
		payload["auto_save_enabled"] = enabled
		payload["auto_save_interval"] = int(every.Seconds())
		payload["dump_path"] = g.cfg.Store.DumpPath
		if latest, err := store.FindLatestDump(g.cfg.Store.DumpPath); err == nil {
			payload["latest_dump"] = latest
		}
	}
	writeOK(w, r, payload)
}

func (g *Gateway) handleMemoryDump(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if g.snapshotter == nil {
		writeError(w, r, errMemoryModeOnly)
		return
	}
	path, err := g.snapshotter.Dump()
	if err != nil {
		if errors.Is(err, store.ErrEncryptionKeyUnset) {
			writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
				"MEM_ENCRYPTION_KEY must be set to dump memory"))
			return
		}
		writeError(w, r, err)
		return
	}
	logging.Info("memory dump written",
		zap.String("request_id", requestID(r)),
		zap.String("path", path),
		zap.String("by", p.Username))
	writeStatus(w, r, http.StatusCreated, map[string]any{"path": path})
}

func (g *Gateway) handleMemoryRestore(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if g.snapshotter == nil {
		writeError(w, r, errMemoryModeOnly)
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if r.ContentLength > 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	var err error
	restored := req.Path
	if req.Path != "" {
		err = g.snapshotter.Restore(req.Path)
	} else {
		restored, err = store.FindLatestDump(g.cfg.Store.DumpPath)
		if err == nil {
			err = g.snapshotter.Restore(restored)
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("no memory dump found"))
			return
		}
		writeError(w, r, err)
		return
	}

	g.catalog.PurgeCache()
	logging.Info("memory restored",
		zap.String("request_id", requestID(r)),
		zap.String("path", restored),
		zap.String("by", p.Username))
	writeOK(w, r, map[string]any{"path": restored})
}

// handleLiveness answers the public /api/health probe.
func (g *Gateway) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, map[string]any{"status": "online"})
}

// handleStatus reports uptime and dependency health to authenticated
// callers.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	g.authed(func(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
		writeOK(w, r, g.checker.StatusReport(r.Context()))
	})(w, r)
}

// handleClearCaches drops every read-through cache. Compiled validation
// schemas stay; they are content-hashed and cannot go stale.
func (g *Gateway) handleClearCaches(w http.ResponseWriter, r *http.Request) {
	g.guarded(model.PermManageGateway, func(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
		g.catalog.PurgeCache()
		logging.Info("caches cleared",
			zap.String("request_id", requestID(r)),
			zap.String("by", p.Username))
		writeMessage(w, r, http.StatusOK, "All caches cleared")
	})(w, r)
}

func (g *Gateway) registerOpsRoutes(static, _ *routerTree) {
	static.handle(http.MethodGet, "/platform/security",
		g.guarded(model.PermManageSecurity, g.handleGetSecurity))
	static.handle(http.MethodPut, "/platform/security",
		g.guarded(model.PermManageSecurity, g.handleUpdateSecurity))

	static.handle(http.MethodPost, "/platform/tools/chaos/toggle",
		g.guarded(model.PermManageGateway, g.handleChaosToggle))
	static.handle(http.MethodGet, "/platform/tools/chaos",
		g.guarded(model.PermManageGateway, g.handleChaosStatus))

	static.handle(http.MethodGet, "/platform/monitor/metrics",
		g.guarded(model.PermViewAnalytics, g.handleMonitorMetrics))
	static.handle(http.MethodGet, "/platform/monitor/liveness",
		http.HandlerFunc(g.handleMonitorLiveness))
	static.handle(http.MethodGet, "/platform/monitor/readiness",
		http.HandlerFunc(g.handleMonitorReadiness))

	static.handle(http.MethodGet, "/platform/logging/logs",
		g.guarded(model.PermViewLogs, g.handleGetLogs))
	static.handle(http.MethodGet, "/platform/logging/export",
		g.guarded(model.PermExportLogs, g.handleExportLogs))

	static.handle(http.MethodGet, "/platform/memory/status",
		g.guarded(model.PermManageGateway, g.handleMemoryStatus))
	static.handle(http.MethodPost, "/platform/memory/dump",
		g.guarded(model.PermManageGateway, g.handleMemoryDump))
	static.handle(http.MethodPost, "/platform/memory/restore",
		g.guarded(model.PermManageGateway, g.handleMemoryRestore))
}
