package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sysgate/internal/kproc"
)

type fakeTable struct {
	procs []kproc.Status
}

func (f *fakeTable) Processes() []kproc.Status {
	return append([]kproc.Status(nil), f.procs...)
}

func (f *fakeTable) Process(pid kproc.PID) (kproc.Status, bool) {
	for _, p := range f.procs {
		if p.PID == pid {
			return p, true
		}
	}
	return kproc.Status{}, false
}

func setupRouter(t *testing.T, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	table := &fakeTable{procs: []kproc.Status{
		{PID: 1, Name: "run", State: "running", OpenFiles: []int{}, Children: []kproc.ChildRecord{{ID: 2, Used: true}}},
		{PID: 2, Name: "echo", ParentPID: 1, State: "exited", ExitStatus: 0, OpenFiles: []int{}},
	}}
	return NewRouter(table, "boot-1", base).Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestListProcesses(t *testing.T) {
	h := setupRouter(t, "/api")
	rec := get(t, h, "/api/processes")
	require.Equal(t, http.StatusOK, rec.Code)

	var body listResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "boot-1", body.BootID)
	require.Len(t, body.Processes, 2)
	assert.Equal(t, "run", body.Processes[0].Name)
	assert.True(t, body.Processes[0].Children[0].Used)
}

func TestListFiltersByState(t *testing.T) {
	h := setupRouter(t, "/api")
	rec := get(t, h, "/api/processes?state=exited")
	require.Equal(t, http.StatusOK, rec.Code)

	var body listResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Processes, 1)
	assert.Equal(t, kproc.PID(2), body.Processes[0].PID)
}

func TestGetProcess(t *testing.T) {
	h := setupRouter(t, "/api/")

	rec := get(t, h, "/api/processes/2")
	require.Equal(t, http.StatusOK, rec.Code)
	var st kproc.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "echo", st.Name)
	assert.Equal(t, kproc.PID(1), st.ParentPID)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/processes/99").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/processes/abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/processes/-3").Code)
}

func TestEmptyBasePath(t *testing.T) {
	h := setupRouter(t, "/")
	assert.Equal(t, http.StatusOK, get(t, h, "/processes").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/processes").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, "")
	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSanitizeBase(t *testing.T) {
	tests := map[string]string{
		"":        "",
		"/":       "",
		" api ":   "/api",
		"/api///": "/api",
		"/a/b":    "/a/b",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeBase(in), in)
	}
}
