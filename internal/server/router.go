package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sysgate/internal/kproc"
	"github.com/loykin/sysgate/internal/metrics"
)

// ProcessTable is the read side of a running machine.
type ProcessTable interface {
	Processes() []kproc.Status
	Process(pid kproc.PID) (kproc.Status, bool)
}

// Router provides embeddable HTTP handlers for watching a machine.
// Endpoints:
//
//	GET {basePath}/processes       every process started since boot
//	GET {basePath}/processes/:pid  one process; 400 for a malformed pid, 404 if unknown
//	GET {basePath}/metrics         prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	table    ProcessTable
	bootID   string
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(table ProcessTable, bootID, basePath string) *Router {
	return &Router{table: table, bootID: bootID, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/processes", r.handleList)
	group.GET("/processes/:pid", r.handleGet)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer builds an http.Server for the router. The caller starts and stops it.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type listResp struct {
	BootID    string         `json:"boot_id"`
	Processes []kproc.Status `json:"processes"`
}

func (r *Router) handleList(c *gin.Context) {
	procs := r.table.Processes()
	if state := c.Query("state"); state != "" {
		kept := procs[:0]
		for _, p := range procs {
			if p.State == state {
				kept = append(kept, p)
			}
		}
		procs = kept
	}
	writeJSON(c, http.StatusOK, listResp{BootID: r.bootID, Processes: procs})
}

func (r *Router) handleGet(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("pid"))
	if err != nil || n <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pid must be a positive integer"})
		return
	}
	st, ok := r.table.Process(kproc.PID(n))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such process"})
		return
	}
	writeJSON(c, http.StatusOK, st)
}
