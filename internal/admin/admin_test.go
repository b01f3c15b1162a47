package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fedihook/internal/plugin"
	"github.com/dshills/fedihook/internal/plugin/security"
)

type fakePlugins struct {
	infos map[string]plugin.Info
	fail  error
}

func (f *fakePlugins) List() []plugin.Info {
	out := make([]plugin.Info, 0, len(f.infos))
	for _, id := range []string{"alpha", "beta"} {
		if info, ok := f.infos[id]; ok {
			out = append(out, info)
		}
	}
	return out
}

func (f *fakePlugins) Get(id string) (plugin.Info, bool) {
	info, ok := f.infos[id]
	return info, ok
}

func (f *fakePlugins) Load(_ context.Context, id string) (plugin.Info, error) {
	if f.fail != nil {
		return plugin.Info{ID: id, State: plugin.StateRejected, Err: f.fail}, f.fail
	}
	info := plugin.Info{ID: id, Version: "1.0.0", State: plugin.StateActive}
	f.infos[id] = info
	return info, nil
}

func (f *fakePlugins) Unload(_ context.Context, id string) error {
	info, ok := f.infos[id]
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, plugin.ErrPluginNotFound)
	}
	if info.State != plugin.StateActive {
		return fmt.Errorf("plugin %q: %w", id, plugin.ErrNotActive)
	}
	info.State = plugin.StateUnloaded
	f.infos[id] = info
	return nil
}

func (f *fakePlugins) Reload(_ context.Context, id string) (plugin.Info, error) {
	if _, ok := f.infos[id]; !ok {
		return plugin.Info{ID: id}, fmt.Errorf("plugin %q: %w", id, plugin.ErrPluginNotFound)
	}
	return f.infos[id], nil
}

func newTestHandler(t *testing.T) (*fakePlugins, *security.Auditor, http.Handler) {
	t.Helper()
	plugins := &fakePlugins{infos: map[string]plugin.Info{
		"alpha": {
			ID:          "alpha",
			Version:     "1.0.0",
			State:       plugin.StateActive,
			Permissions: []security.Permission{security.PermNoteRead},
			History:     []plugin.Transition{{From: plugin.StatePermissionsGranted, To: plugin.StateActive}},
		},
		"beta": {ID: "beta", State: plugin.StateFailed, Err: fmt.Errorf("boom")},
	}}
	auditor := security.NewAuditor()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fedihook_up 1\n"))
	})
	return plugins, auditor, New(plugins, auditor, metrics, zerolog.Nop()).Routes()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fedihook_up 1")
}

func TestListPlugins(t *testing.T) {
	_, _, h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/plugins")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []pluginView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	require.Len(t, views, 2)
	assert.Equal(t, "alpha", views[0].ID)
	assert.Equal(t, "active", views[0].State)
	assert.Equal(t, []string{"note:read"}, views[0].Permissions)
	assert.Equal(t, []transitionView{{From: "permissions_granted", To: "active"}}, views[0].History)
	assert.Equal(t, "boom", views[1].Error)
	assert.Empty(t, views[1].Permissions)
}

func TestGetPlugin(t *testing.T) {
	_, _, h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/plugins/beta")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"failed"`)

	rec = do(t, h, http.MethodGet, "/plugins/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleRoutes(t *testing.T) {
	plugins, _, h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/plugins/alpha/unload")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"unloaded"`)

	rec = do(t, h, http.MethodPost, "/plugins/alpha/unload")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/plugins/alpha/load")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"active"`)

	rec = do(t, h, http.MethodPost, "/plugins/ghost/reload")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	plugins.fail = fmt.Errorf("wrapped: %w", plugin.ErrRejected)
	rec = do(t, h, http.MethodPost, "/plugins/gamma/load")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotNil(t, body.Plugin)
	assert.Equal(t, "rejected", body.Plugin.State)

	rec = do(t, h, http.MethodGet, "/plugins/alpha/load")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAudit(t *testing.T) {
	_, auditor, h := newTestHandler(t)
	auditor.Record("alpha", security.PermNoteRead, "on note:afterCreate", true)
	auditor.Record("alpha", security.PermNoteWrite, "onBefore note:beforeCreate", false)
	auditor.Record("beta", security.PermLogWrite, "log.info", true)

	var entries []security.AuditEntry
	rec := do(t, h, http.MethodGet, "/audit")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	assert.Len(t, entries, 3)

	rec = do(t, h, http.MethodGet, "/audit?plugin=alpha&denied=true")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, security.PermNoteWrite, entries[0].Permission)

	rec = do(t, h, http.MethodGet, "/audit?plugin=ghost")
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}
