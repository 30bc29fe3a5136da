package debugserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/ruleflow"
	"github.com/GoCodeAlone/ruleflow/internal/driver"
	"github.com/GoCodeAlone/ruleflow/internal/platform/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type readyRule struct {
	ruleflow.BaseRule
}

func (r *readyRule) Type() ruleflow.RuleType { return "ready" }

func (r *readyRule) Initialize(*ruleflow.RuleContext) error {
	r.MarkInitialized()
	return nil
}

func (r *readyRule) Update(*ruleflow.RuleContext) error { return nil }

func (r *readyRule) Unload(*ruleflow.RuleContext) error {
	r.MarkUnloaded()
	return nil
}

type fixture struct {
	server *Server
	driver *driver.Driver
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg, "")
	bus := ruleflow.NewEventBus(nil)
	require.NoError(t, bus.RegisterObserver(collector))

	catalog := ruleflow.NewCatalog()
	catalog.AddSetup(ruleflow.NewSetup("menu", func(ruleflow.Config) (*ruleflow.Blueprint, error) {
		return &ruleflow.Blueprint{Rules: []ruleflow.Rule{&readyRule{}}, Order: ruleflow.InitUnloadOrder{"ready"}}, nil
	}))

	root := ruleflow.NewOrchestrator("game", ruleflow.WithSubject(bus))
	d := driver.New(root, catalog, driver.WithFPS(0), driver.WithFrameObserver(collector.ObserveFrame))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, d.Running, time.Second, time.Millisecond)

	f := &fixture{server: New(d, catalog, reg, nil), driver: d, cancel: cancel, done: done}
	t.Cleanup(f.stop)
	return f
}

func (f *fixture) stop() {
	f.once.Do(func() {
		f.cancel()
		<-f.done
	})
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_LoadAndStatus(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	defer f.stop()

	rec := f.do(t, http.MethodPost, "/ops/load", `{"setup":"menu"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		return f.driver.Snapshot().State == ruleflow.StateOperational.String()
	}, time.Second, time.Millisecond)

	rec = f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap ruleflow.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "game", snap.Category)
	require.NotNil(t, snap.Module)
	assert.Equal(t, "menu", snap.Module.Name)
	assert.Equal(t, []ruleflow.RuleSnapshot{{Type: "ready", State: "initialized"}}, snap.Module.Rules)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ruleflow_operations_total")
	assert.Contains(t, rec.Body.String(), "ruleflow_frame_duration_seconds")

	rec = f.do(t, http.MethodGet, "/setups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"setups":["menu"]}`, rec.Body.String())
}

func TestServer_OperationErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	defer f.stop()

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"invalid json", "/ops/load", `{`, http.StatusBadRequest},
		{"unknown op", "/ops/explode", ``, http.StatusBadRequest},
		{"unknown setup", "/ops/load", `{"setup":"nope"}`, http.StatusNotFound},
		{"unknown target", "/ops/unload", `{"target":"hud"}`, http.StatusNotFound},
		{"nothing loaded", "/ops/unload", ``, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_Health(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	defer f.stop()

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/ops/quit", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return !f.driver.Running() }, time.Second, time.Millisecond)

	rec = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Serve(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	defer f.stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- f.server.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-served)
	http.DefaultClient.CloseIdleConnections()
}
