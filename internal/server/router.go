package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/taskmon/internal/action"
	"github.com/loykin/taskmon/internal/delta"
	"github.com/loykin/taskmon/internal/history"
	"github.com/loykin/taskmon/internal/query"
	"github.com/loykin/taskmon/internal/snapshot"
)

// Core is the monitor surface the HTTP layer consumes. The root facade
// implements it.
type Core interface {
	Latest() (*snapshot.Snapshot, delta.Result, bool)
	Processes(pred query.Predicate, key query.SortKey) []snapshot.ProcessView
	History(metric string) []history.Point
	HistoryMetrics() []string
	DefaultSort() query.SortKey
	Do(ctx context.Context, id snapshot.Identity, act action.Action) action.Result
}

// Router provides embeddable HTTP handlers over a monitor core.
// Endpoints:
//
//	GET  {basePath}/processes   query: name=...&pid=...&status=...&sort=...
//	GET  {basePath}/system
//	GET  {basePath}/history     query: metric=... (empty lists metric names)
//	POST {basePath}/actions     body: {"pid":..,"start_unix":..,"action":"kill|suspend|resume"}
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	core     Core
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(core Core, basePath string) *Router {
	return &Router{core: core, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/processes", r.handleProcesses)
	group.GET("/system", r.handleSystem)
	group.GET("/history", r.handleHistory)
	group.POST("/actions", r.handleAction)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, core Core) (*http.Server, error) {
	r := NewRouter(core, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status api server failed", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleProcesses(c *gin.Context) {
	if _, _, ok := r.core.Latest(); !ok {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "no snapshot published yet"})
		return
	}

	var pred query.Predicate
	pred.NameContains = c.Query("name")
	if s := c.Query("pid"); s != "" {
		pid, err := strconv.ParseInt(s, 10, 32)
		if err != nil || pid <= 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid pid: " + s})
			return
		}
		pred.PID = int32(pid)
	}
	if s := c.Query("status"); s != "" {
		pred.Status = snapshot.Status(s)
	}

	key := r.core.DefaultSort()
	if s := c.Query("sort"); s != "" {
		var err error
		key, err = query.ParseSortKey(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, r.core.Processes(pred, key))
}

func (r *Router) handleSystem(c *gin.Context) {
	snap, res, ok := r.core.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "no snapshot published yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"taken":  snap.Taken,
		"system": snap.Sys,
		"rates":  res.System,
	})
}

func (r *Router) handleHistory(c *gin.Context) {
	metric := c.Query("metric")
	if metric == "" {
		c.JSON(http.StatusOK, gin.H{"metrics": r.core.HistoryMetrics()})
		return
	}
	series := r.core.History(metric)
	if series == nil {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown metric: " + metric})
		return
	}
	c.JSON(http.StatusOK, series)
}

type actionReq struct {
	PID       int32  `json:"pid" binding:"required"`
	StartUnix int64  `json:"start_unix" binding:"required"`
	Action    string `json:"action" binding:"required"`
}

func (r *Router) handleAction(c *gin.Context) {
	var req actionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	act, err := action.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	id := snapshot.Identity{PID: req.PID, StartUnix: req.StartUnix}
	res := r.core.Do(c.Request.Context(), id, act)

	status := http.StatusOK
	switch res.Outcome {
	case action.NotFound:
		status = http.StatusNotFound
	case action.PermissionDenied:
		status = http.StatusForbidden
	case action.Failed:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"target":  res.Target,
		"action":  res.Action,
		"outcome": res.Outcome,
		"reason":  res.Reason(),
	})
}
