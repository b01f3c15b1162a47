// Package admin serves the operator HTTP surface: plugin status and control,
// the permission audit log, health and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dshills/fedihook/internal/plugin"
	"github.com/dshills/fedihook/internal/plugin/security"
)

// Plugins is the plugin manager surface the handler drives.
type Plugins interface {
	List() []plugin.Info
	Get(id string) (plugin.Info, bool)
	Load(ctx context.Context, id string) (plugin.Info, error)
	Unload(ctx context.Context, id string) error
	Reload(ctx context.Context, id string) (plugin.Info, error)
}

// Handler serves the admin routes.
type Handler struct {
	plugins Plugins
	auditor *security.Auditor
	metrics http.Handler
	logger  zerolog.Logger
}

// New creates a Handler. metrics may be nil to leave /metrics unrouted.
func New(plugins Plugins, auditor *security.Auditor, metrics http.Handler, logger zerolog.Logger) *Handler {
	return &Handler{
		plugins: plugins,
		auditor: auditor,
		metrics: metrics,
		logger:  logger.With().Str("component", "admin").Logger(),
	}
}

// Routes returns the admin router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/plugins", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Get("/", h.handleListPlugins)
		r.Get("/{id}", h.handleGetPlugin)
		r.Post("/{id}/load", h.handleLoad)
		r.Post("/{id}/unload", h.handleUnload)
		r.Post("/{id}/reload", h.handleReload)
	})
	r.With(middleware.SetHeader("Content-Type", "application/json")).Get("/audit", h.handleAudit)
	return r
}

// NewServer builds an HTTP server for the admin routes.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type transitionView struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type pluginView struct {
	ID          string           `json:"id"`
	Version     string           `json:"version,omitempty"`
	State       string           `json:"state"`
	Builtin     bool             `json:"builtin,omitempty"`
	Error       string           `json:"error,omitempty"`
	Permissions []string         `json:"permissions"`
	History     []transitionView `json:"history,omitempty"`
}

func viewOf(info plugin.Info) pluginView {
	v := pluginView{
		ID:          info.ID,
		Version:     info.Version,
		State:       info.State.String(),
		Builtin:     info.Builtin,
		Permissions: make([]string, 0, len(info.Permissions)),
	}
	if info.Err != nil {
		v.Error = info.Err.Error()
	}
	for _, p := range info.Permissions {
		v.Permissions = append(v.Permissions, string(p))
	}
	for _, t := range info.History {
		v.History = append(v.History, transitionView{From: t.From.String(), To: t.To.String()})
	}
	return v
}

type errorBody struct {
	Error  string      `json:"error"`
	Plugin *pluginView `json:"plugin,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (h *Handler) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	infos := h.plugins.List()
	out := make([]pluginView, 0, len(infos))
	for _, info := range infos {
		out = append(out, viewOf(info))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	info, ok := h.plugins.Get(chi.URLParam(r, "id"))
	if !ok {
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: plugin.ErrPluginNotFound.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(info))
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "load", h.plugins.Load)
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "reload", h.plugins.Reload)
}

func (h *Handler) handleUnload(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "unload", func(ctx context.Context, id string) (plugin.Info, error) {
		if err := h.plugins.Unload(ctx, id); err != nil {
			return plugin.Info{}, err
		}
		info, _ := h.plugins.Get(id)
		return info, nil
	})
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (plugin.Info, error)) {
	id := chi.URLParam(r, "id")
	info, err := fn(r.Context(), id)
	if err == nil {
		h.logger.Info().Str("plugin_id", id).Str("op", op).Str("request_id", middleware.GetReqID(r.Context())).Msg("plugin operation")
		h.writeJSON(w, http.StatusOK, viewOf(info))
		return
	}

	h.logger.Warn().Err(err).Str("plugin_id", id).Str("op", op).Msg("plugin operation failed")
	body := errorBody{Error: err.Error()}
	if info.ID != "" {
		v := viewOf(info)
		body.Plugin = &v
	}
	h.writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, plugin.ErrPluginNotFound):
		return http.StatusNotFound
	case errors.Is(err, plugin.ErrAlreadyLoaded), errors.Is(err, plugin.ErrNotActive):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries := h.auditor.Query(security.AuditQuery{
		PluginID:   q.Get("plugin"),
		DeniedOnly: q.Get("denied") == "true",
	})
	if entries == nil {
		entries = []security.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("encode response")
	}
}
