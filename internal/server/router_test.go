package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskmon/internal/action"
	"github.com/loykin/taskmon/internal/delta"
	"github.com/loykin/taskmon/internal/history"
	"github.com/loykin/taskmon/internal/query"
	"github.com/loykin/taskmon/internal/snapshot"
)

// stubCore serves canned monitor state to the handlers.
type stubCore struct {
	snap       *snapshot.Snapshot
	res        delta.Result
	series     map[string][]history.Point
	lastAction action.Action
	lastTarget snapshot.Identity
	outcome    action.Outcome
}

func (s *stubCore) Latest() (*snapshot.Snapshot, delta.Result, bool) {
	if s.snap == nil {
		return nil, delta.Result{}, false
	}
	return s.snap, s.res, true
}

func (s *stubCore) Processes(pred query.Predicate, key query.SortKey) []snapshot.ProcessView {
	if s.snap == nil {
		return nil
	}
	ids := query.Select(s.snap, s.res, pred, key)
	out := make([]snapshot.ProcessView, len(ids))
	for i, id := range ids {
		out[i] = s.snap.Procs[id]
	}
	return out
}

func (s *stubCore) History(metric string) []history.Point { return s.series[metric] }

func (s *stubCore) HistoryMetrics() []string {
	out := make([]string, 0, len(s.series))
	for m := range s.series {
		out = append(out, m)
	}
	return out
}

func (s *stubCore) DefaultSort() query.SortKey { return query.SortCPU }

func (s *stubCore) Do(ctx context.Context, id snapshot.Identity, act action.Action) action.Result {
	s.lastTarget, s.lastAction = id, act
	return action.Result{Target: id, Action: act, Outcome: s.outcome}
}

func populatedCore() *stubCore {
	snap := &snapshot.Snapshot{
		Taken: time.Now(),
		Procs: map[snapshot.Identity]snapshot.ProcessView{},
		Sys:   snapshot.SystemView{Memory: snapshot.MemoryStat{Used: 1, Total: 2}},
	}
	for _, v := range []snapshot.ProcessView{
		{Identity: snapshot.Identity{PID: 1, StartUnix: 10}, Name: "init", Status: snapshot.StatusSleeping},
		{Identity: snapshot.Identity{PID: 2, StartUnix: 20}, Name: "nginx", Status: snapshot.StatusRunning},
	} {
		snap.Procs[v.Identity] = v
	}
	return &stubCore{
		snap:    snap,
		res:     delta.Result{System: delta.SystemRates{Known: true, CPUPercent: 42}},
		series:  map[string][]history.Point{"system.cpu": {{At: time.Now(), Value: 42}}},
		outcome: action.Success,
	}
}

func newTestServer(t *testing.T, core Core) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(NewRouter(core, "/api").Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestProcessesEndpoint(t *testing.T) {
	core := populatedCore()
	ts := newTestServer(t, core)

	t.Run("all processes", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/processes")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var views []snapshot.ProcessView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
		assert.Len(t, views, 2)
	})

	t.Run("name filter", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/processes?name=NGI")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var views []snapshot.ProcessView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
		require.Len(t, views, 1)
		assert.Equal(t, "nginx", views[0].Name)
	})

	t.Run("invalid pid", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/processes?pid=abc")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid sort", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/processes?sort=threads")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("no snapshot yet", func(t *testing.T) {
		empty := newTestServer(t, &stubCore{})
		resp, err := http.Get(empty.URL + "/api/processes")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestSystemEndpoint(t *testing.T) {
	ts := newTestServer(t, populatedCore())

	resp, err := http.Get(ts.URL + "/api/system")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rates delta.SystemRates `json:"rates"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Rates.Known)
	assert.Equal(t, 42.0, body.Rates.CPUPercent)
}

func TestHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t, populatedCore())

	t.Run("list metrics when no metric given", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/history")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Metrics []string `json:"metrics"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body.Metrics, "system.cpu")
	})

	t.Run("known metric", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/history?metric=system.cpu")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var series []history.Point
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&series))
		require.Len(t, series, 1)
		assert.Equal(t, 42.0, series[0].Value)
	})

	t.Run("unknown metric", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/history?metric=nope")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func postAction(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/actions", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestActionEndpoint(t *testing.T) {
	core := populatedCore()
	ts := newTestServer(t, core)

	t.Run("success", func(t *testing.T) {
		resp := postAction(t, ts, `{"pid":2,"start_unix":20,"action":"kill"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, action.Kill, core.lastAction)
		assert.Equal(t, snapshot.Identity{PID: 2, StartUnix: 20}, core.lastTarget)
	})

	t.Run("bad body", func(t *testing.T) {
		resp := postAction(t, ts, `{"pid":2}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown action", func(t *testing.T) {
		resp := postAction(t, ts, `{"pid":2,"start_unix":20,"action":"reboot"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("outcome mapping", func(t *testing.T) {
		cases := []struct {
			outcome action.Outcome
			status  int
		}{
			{action.NotFound, http.StatusNotFound},
			{action.PermissionDenied, http.StatusForbidden},
			{action.Failed, http.StatusBadGateway},
		}
		for _, tc := range cases {
			core.outcome = tc.outcome
			resp := postAction(t, ts, `{"pid":2,"start_unix":20,"action":"suspend"}`)
			assert.Equal(t, tc.status, resp.StatusCode, "outcome %s", tc.outcome)
		}
	})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewServerLogsBindFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Occupy a port so the server cannot bind to it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	out := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(out, nil)))
	defer slog.SetDefault(prev)

	srv, err := NewServer(ln.Addr().String(), "/api", &stubCore{})
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "status api server failed")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"/":     "",
		"api":   "/api",
		"/api":  "/api",
		"/api/": "/api",
		" /v1 ": "/v1",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeBase(in), "input %q", in)
	}
}
