package plugin

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fedihook/internal/event"
	"github.com/dshills/fedihook/internal/event/events"
	"github.com/dshills/fedihook/internal/plugin/api"
	"github.com/dshills/fedihook/internal/plugin/security"
)

const spamFilter = `
function activate(fedi, config)
	fedi.on_before("note:beforeCreate", function(note)
		for _, word in ipairs(config.words) do
			if string.find(note.content, word, 1, true) then
				return {cancel = true, reason = "Spam detected"}
			end
		end
	end)
end
`

const tagger = `
function activate(fedi)
	fedi.on_before("note:beforeCreate", function(note)
		note.content = note.content .. " [tagged]"
		return {modified = note}
	end)
end
`

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
}

func (o *recordingObserver) PluginTransition(id string, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, fmt.Sprintf("%s:%s->%s", id, from, to))
}

func (o *recordingObserver) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.transitions...)
}

type harness struct {
	base     string
	bus      *event.Bus
	perms    *security.Manager
	auditor  *security.Auditor
	factory  *api.Factory
	manager  *Manager
	observer *recordingObserver

	mu        sync.Mutex
	lifecycle []events.PluginLifecycle
}

func newHarness(t *testing.T, opts ...ManagerOption) *harness {
	t.Helper()
	h := &harness{
		base:     t.TempDir(),
		bus:      event.NewBus(events.Catalogue(), event.WithHandlerTimeout(2*time.Second)),
		perms:    security.NewManager(),
		auditor:  security.NewAuditor(),
		observer: &recordingObserver{},
	}
	h.factory = api.NewFactory(h.bus, h.perms, h.auditor)

	record := func(_ context.Context, ev events.PluginLifecycle) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.lifecycle = append(h.lifecycle, ev)
		return nil
	}
	_, err := event.On(h.bus, events.PluginAfterActivate, record)
	require.NoError(t, err)
	_, err = event.On(h.bus, events.PluginAfterUnload, record)
	require.NoError(t, err)

	opts = append([]ManagerOption{WithObserver(h.observer)}, opts...)
	h.manager = NewManager(NewLoader(WithPaths(h.base)), h.bus, h.perms, h.factory, opts...)
	t.Cleanup(func() {
		_ = h.manager.UnloadAll(context.Background())
		_ = h.auditor.Close(context.Background())
	})
	return h
}

func (h *harness) plugin(t *testing.T, id string, perms []string, config string, script string) string {
	t.Helper()
	quoted := make([]string, len(perms))
	for i, p := range perms {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	if config == "" {
		config = "{}"
	}
	manifest := fmt.Sprintf(`{"id": %q, "version": "1.0.0", "permissions": [%s], "config": %s}`,
		id, join(quoted), config)
	return writePlugin(t, h.base, id, manifest, script)
}

func (h *harness) events() []events.PluginLifecycle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.PluginLifecycle(nil), h.lifecycle...)
}

func (h *harness) createNote(t *testing.T, content string) event.Result[events.NoteDraft] {
	t.Helper()
	res, err := event.EmitBefore(context.Background(), h.bus, events.NoteBeforeCreate,
		events.NoteDraft{UserID: "u1", Content: content})
	require.NoError(t, err)
	return res
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func TestManagerLoad(t *testing.T) {
	h := newHarness(t)
	h.plugin(t, "spam-filter", []string{"note:write"}, `{"words": ["buy now"]}`, spamFilter)

	info, err := h.manager.Load(context.Background(), "spam-filter")
	require.NoError(t, err)
	assert.Equal(t, StateActive, info.State)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, []security.Permission{security.PermNoteWrite}, info.Permissions)
	assert.Equal(t, []Transition{
		{StateDiscovered, StateManifestValidated},
		{StateManifestValidated, StatePermissionsGranted},
		{StatePermissionsGranted, StateActive},
	}, info.History)

	res := h.createNote(t, "please buy now")
	assert.True(t, res.Cancelled)
	assert.Equal(t, "Spam detected", res.Reason)

	res = h.createNote(t, "hello")
	assert.False(t, res.Cancelled)

	lifecycle := h.events()
	require.Len(t, lifecycle, 1)
	assert.Equal(t, events.PluginLifecycle{PluginID: "spam-filter", Version: "1.0.0", State: "active"}, lifecycle[0])

	assert.Equal(t, []string{
		"spam-filter:discovered->manifest_validated",
		"spam-filter:manifest_validated->permissions_granted",
		"spam-filter:permissions_granted->active",
	}, h.observer.all())
	assert.Equal(t, 1, h.manager.CountActive())
}

func TestManagerLogsHighRiskGrant(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(t, WithManagerLogger(zerolog.New(&logs)))
	h.plugin(t, "janitor", []string{"note:read", "note:moderate"}, "", "-- quiet")
	h.plugin(t, "reader", []string{"note:read"}, "", "-- quiet")

	_, err := h.manager.Load(context.Background(), "janitor")
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"permissions":["note:moderate"],"message":"plugin holds high-risk permissions"`)

	logs.Reset()
	_, err = h.manager.Load(context.Background(), "reader")
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "high-risk")
}

func TestManagerLoadTwice(t *testing.T) {
	h := newHarness(t)
	h.plugin(t, "p", nil, "", "")
	writeFile(t, filepath.Join(h.base, "p", DefaultMain), "-- empty")

	_, err := h.manager.Load(context.Background(), "p")
	require.NoError(t, err)
	_, err = h.manager.Load(context.Background(), "p")
	assert.ErrorIs(t, err, ErrAlreadyLoaded)
}

func TestManagerLoadNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPluginNotFound)
	_, ok := h.manager.Get("ghost")
	assert.False(t, ok)
}

func TestManagerRejectsUnknownPermission(t *testing.T) {
	h := newHarness(t)
	h.plugin(t, "greedy", []string{"note:read", "filesystem:write"}, "", `fedi_loaded = true`)

	info, err := h.manager.Load(context.Background(), "greedy")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StateRejected, info.State)
	assert.ErrorIs(t, info.Err, ErrRejected)

	_, granted := h.perms.Get("greedy")
	assert.False(t, granted)
	assert.Empty(t, h.events())
}

func TestManagerFailsOnScriptError(t *testing.T) {
	h := newHarness(t)
	h.plugin(t, "broken", []string{"note:read"}, "", `
function activate(fedi)
	fedi.on("note:afterCreate", function() end)
	error("boom")
end
`)

	info, err := h.manager.Load(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, StateFailed, info.State)

	// The subscription made before the error is gone, and so is the grant.
	assert.Equal(t, 0, h.bus.SubscriberCount(events.NoteAfterCreate.Topic()))
	_, granted := h.perms.Get("broken")
	assert.False(t, granted)
}

func TestManagerFailsOnBrokenManifest(t *testing.T) {
	h := newHarness(t)
	writePlugin(t, h.base, "bad", `{"id": "bad", "version": "one"}`, "-- x")

	info, err := h.manager.Load(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, StateFailed, info.State)
	assert.ErrorIs(t, info.Err, ErrInvalidVersion)
}

func TestManagerActivateTimeout(t *testing.T) {
	h := newHarness(t, WithHostOptions(WithHostCallTimeout(100*time.Millisecond)))
	h.plugin(t, "spin", nil, "", `function activate() while true do end end`)

	info, err := h.manager.Load(context.Background(), "spin")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, info.State)
}

func TestManagerUnloadRemovesOnlyItsSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.plugin(t, "spam-filter", []string{"note:write"}, `{"words": ["buy now"]}`, spamFilter)
	h.plugin(t, "tagger", []string{"note:write"}, "", tagger)

	require.NoError(t, h.manager.LoadAll(context.Background()))
	assert.Equal(t, 2, h.bus.SubscriberCount(events.NoteBeforeCreate.Topic()))
	assert.Equal(t, "hello [tagged]", h.createNote(t, "hello").Data.Content)

	require.NoError(t, h.manager.Unload(context.Background(), "tagger"))

	info, ok := h.manager.Get("tagger")
	require.True(t, ok)
	assert.Equal(t, StateUnloaded, info.State)
	assert.Empty(t, info.Permissions)
	assert.Equal(t, 1, h.bus.SubscriberCount(events.NoteBeforeCreate.Topic()))

	// The tagger no longer runs; the spam filter still does.
	assert.Equal(t, "hello", h.createNote(t, "hello").Data.Content)
	assert.True(t, h.createNote(t, "buy now!").Cancelled)

	_, granted := h.perms.Get("tagger")
	assert.False(t, granted)

	lifecycle := h.events()
	last := lifecycle[len(lifecycle)-1]
	assert.Equal(t, events.PluginLifecycle{PluginID: "tagger", Version: "1.0.0", State: "unloaded", Reason: "unload"}, last)

	assert.ErrorIs(t, h.manager.Unload(context.Background(), "tagger"), ErrNotActive)
	assert.ErrorIs(t, h.manager.Unload(context.Background(), "ghost"), ErrPluginNotFound)
}

func TestManagerLoadAfterUnload(t *testing.T) {
	h := newHarness(t)
	h.plugin(t, "tagger", []string{"note:write"}, "", tagger)

	_, err := h.manager.Load(context.Background(), "tagger")
	require.NoError(t, err)
	require.NoError(t, h.manager.Unload(context.Background(), "tagger"))

	info, err := h.manager.Load(context.Background(), "tagger")
	require.NoError(t, err)
	assert.Equal(t, StateActive, info.State)
	assert.Equal(t, "hi [tagged]", h.createNote(t, "hi").Data.Content)
}

func TestManagerReload(t *testing.T) {
	h := newHarness(t)
	dir := h.plugin(t, "tagger", []string{"note:write"}, "", tagger)

	_, err := h.manager.Load(context.Background(), "tagger")
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, DefaultMain), `
function activate(fedi)
	fedi.on_before("note:beforeCreate", function(note)
		note.content = note.content .. " [v2]"
		return {modified = note}
	end)
end
`)

	info, err := h.manager.Reload(context.Background(), "tagger")
	require.NoError(t, err)
	assert.Equal(t, StateActive, info.State)
	assert.Contains(t, info.History, Transition{StateActive, StateReloading})
	assert.Contains(t, info.History, Transition{StateReloading, StateManifestValidated})

	assert.Equal(t, 1, h.bus.SubscriberCount(events.NoteBeforeCreate.Topic()))
	assert.Equal(t, "hi [v2]", h.createNote(t, "hi").Data.Content)

	var reasons []string
	for _, ev := range h.events() {
		reasons = append(reasons, ev.State+"/"+ev.Reason)
	}
	assert.Equal(t, []string{"active/", "reloading/reload", "active/"}, reasons)
}

func TestManagerReloadIntoFailure(t *testing.T) {
	h := newHarness(t)
	dir := h.plugin(t, "tagger", []string{"note:write"}, "", tagger)

	_, err := h.manager.Load(context.Background(), "tagger")
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, DefaultMain), `this is not lua`)
	info, err := h.manager.Reload(context.Background(), "tagger")
	require.Error(t, err)
	assert.Equal(t, StateFailed, info.State)
	assert.Equal(t, 0, h.bus.SubscriberCount(events.NoteBeforeCreate.Topic()))

	_, err = h.manager.Reload(context.Background(), "tagger")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestManagerReloadWhileReading(t *testing.T) {
	h := newHarness(t)
	h.plugin(t, "tagger", []string{"note:write"}, "", tagger)

	_, err := h.manager.Load(context.Background(), "tagger")
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if info, ok := h.manager.Get("tagger"); ok {
				_ = info.Version
			}
			for _, info := range h.manager.List() {
				_ = info.Err
			}
			_ = h.manager.CountActive()
		}
	}()

	for i := 0; i < 20; i++ {
		info, err := h.manager.Reload(context.Background(), "tagger")
		require.NoError(t, err)
		require.Equal(t, StateActive, info.State)
	}
	close(done)
	wg.Wait()

	info, ok := h.manager.Get("tagger")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, 1, h.bus.SubscriberCount(events.NoteBeforeCreate.Topic()))
}

func TestManagerLoadAllCollectsErrors(t *testing.T) {
	h := newHarness(t)
	h.plugin(t, "good", nil, "", "-- fine")
	h.plugin(t, "greedy", []string{"root"}, "", "-- greedy")
	writePlugin(t, h.base, "nomanifest", `{`, "")

	err := h.manager.LoadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	states := map[string]State{}
	for _, info := range h.manager.List() {
		states[info.ID] = info.State
	}
	assert.Equal(t, StateActive, states["good"])
	assert.Equal(t, StateRejected, states["greedy"])
	assert.Equal(t, StateFailed, states["nomanifest"])

	// A second LoadAll leaves active plugins alone.
	err = h.manager.LoadAll(context.Background())
	require.Error(t, err)
	info, _ := h.manager.Get("good")
	assert.Len(t, info.History, 3)
}

// goPlugin is a builtin plugin used to observe the teardown order.
type goPlugin struct {
	id     string
	order  *[]string
	mu     *sync.Mutex
	sc     *api.SecureContext
	closed bool
}

func (p *goPlugin) Activate(_ context.Context, sc *api.SecureContext) error {
	p.sc = sc
	_, err := sc.On(events.UserAfterRegister.Topic(), func(context.Context, event.Event) error { return nil })
	return err
}

func (p *goPlugin) Deactivate(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	// The context stays usable until Deactivate returns.
	p.closed = p.sc.Closed()
	*p.order = append(*p.order, p.id)
	return nil
}

func TestManagerBuiltins(t *testing.T) {
	h := newHarness(t)

	var (
		mu    sync.Mutex
		order []string
	)
	plugins := map[string]*goPlugin{}
	for _, id := range []string{"alpha", "beta"} {
		p := &goPlugin{id: id, order: &order, mu: &mu}
		plugins[id] = p
		require.NoError(t, h.manager.RegisterBuiltin(&Manifest{ID: id, Version: "1.0.0", Permissions: []string{"user:read"}}, p))
	}
	err := h.manager.RegisterBuiltin(&Manifest{ID: "alpha", Version: "1.0.0"}, &goPlugin{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.ErrorIs(t, h.manager.RegisterBuiltin(nil, &goPlugin{}), ErrNilManifest)

	require.NoError(t, h.manager.LoadAll(context.Background()))
	assert.Equal(t, 2, h.bus.SubscriberCount(events.UserAfterRegister.Topic()))

	info, _ := h.manager.Get("alpha")
	assert.True(t, info.Builtin)

	require.NoError(t, h.manager.UnloadAll(context.Background()))
	assert.Equal(t, []string{"beta", "alpha"}, order)
	assert.Equal(t, 0, h.bus.SubscriberCount(events.UserAfterRegister.Topic()))
	for id, p := range plugins {
		assert.False(t, p.closed, id)
		assert.True(t, p.sc.Closed(), id)
	}
}
