package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/landslide-lab/sphbox/internal/engine"
	"github.com/landslide-lab/sphbox/internal/raster"
	"github.com/landslide-lab/sphbox/internal/testutil"
	"github.com/landslide-lab/sphbox/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T, cfg engine.Config) (*Server, http.Handler) {
	t.Helper()
	cfg.Logger = testutil.NewTestLogger(t)
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = t.TempDir()
	}
	e, err := engine.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	s, err := New(Config{Engine: e, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return s, s.Handler()
}

func writeDEM(t *testing.T, path string) {
	t.Helper()
	g := core.NewGrid(4, 3, 10)
	g.NoData = -9999
	for i := range g.Values {
		g.Values[i] = 50 + float64(i)
	}
	require.NoError(t, raster.Write(g, path))
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "body: %s", rec.Body.String())
	return rec, decoded
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, _ := setupServer(t, engine.Config{})
	assert.Equal(t, DefaultAddr, s.Addr())
}

func TestHealth(t *testing.T) {
	_, h := setupServer(t, engine.Config{})
	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestPipeline_DemToTop(t *testing.T) {
	dir := t.TempDir()
	dem := filepath.Join(dir, "slope.asc")
	writeDEM(t, dem)
	out := filepath.Join(dir, "slope.TOP")

	_, h := setupServer(t, engine.Config{})
	payload, err := json.Marshal(map[string]string{"input": dem, "output": out, "label": "api"})
	require.NoError(t, err)

	rec, body := do(t, h, http.MethodPost, "/v1/pipelines/dem-to-top", string(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.FileExists(t, out)
	assert.Nil(t, body["error"])

	run := body["run"].(map[string]any)
	assert.Equal(t, "dem_to_top", run["pipeline"])
	assert.Equal(t, "done", run["state"])
	assert.Equal(t, "api", run["label"])
	id := run["id"].(string)

	rec, body = do(t, h, http.MethodGet, "/v1/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	transitions := body["transitions"].([]any)
	require.Len(t, transitions, 3)
	last := transitions[2].(map[string]any)
	assert.Equal(t, "done", last["to"])

	rec, body = do(t, h, http.MethodGet, "/v1/runs?pipeline=dem_to_top&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"].([]any), 1)

	rec, body = do(t, h, http.MethodGet, "/v1/runs?pipeline=sph_model", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["runs"].([]any))
}

func TestPipeline_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.QGIS_res")
	require.NoError(t, os.WriteFile(bad, []byte("not a result"), 0o644))

	tests := []struct {
		name     string
		target   string
		body     string
		status   int
		kind     core.ErrorKind
		field    string
		recorded bool
	}{
		{
			name:   "unknown pipeline",
			target: "/v1/pipelines/mesh",
			body:   `{}`,
			status: http.StatusNotFound,
			kind:   core.KindConfig,
			field:  "pipeline",
		},
		{
			name:   "malformed body",
			target: "/v1/pipelines/dem_to_top",
			body:   `{"input":`,
			status: http.StatusBadRequest,
			kind:   core.KindConfig,
			field:  "body",
		},
		{
			name:   "unknown field",
			target: "/v1/pipelines/dem_to_top",
			body:   `{"colour":"red"}`,
			status: http.StatusBadRequest,
			kind:   core.KindConfig,
			field:  "body",
		},
		{
			name:   "bad timeout",
			target: "/v1/pipelines/sph_model",
			body:   `{"timeout":"soon"}`,
			status: http.StatusBadRequest,
			kind:   core.KindConfig,
			field:  "timeout",
		},
		{
			name:     "invalid request",
			target:   "/v1/pipelines/dem_to_top",
			body:     `{"output":"x.TOP"}`,
			status:   http.StatusBadRequest,
			kind:     core.KindConfig,
			field:    "input",
			recorded: true,
		},
		{
			name:     "malformed result",
			target:   "/v1/pipelines/res_to_netcdf",
			body:     `{"input":"` + bad + `","output":"` + filepath.Join(dir, "x.nc") + `"}`,
			status:   http.StatusUnprocessableEntity,
			kind:     core.KindFormat,
			recorded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := setupServer(t, engine.Config{})
			rec, body := do(t, h, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			errBody := body["error"].(map[string]any)
			assert.Equal(t, string(tt.kind), errBody["kind"])
			assert.NotEmpty(t, errBody["message"])
			if tt.field != "" {
				assert.Equal(t, tt.field, errBody["field"])
			}
			if tt.recorded {
				run := body["run"].(map[string]any)
				assert.Equal(t, "failed", run["state"])
				assert.Equal(t, string(tt.kind), run["error_kind"])
			} else {
				assert.Nil(t, body["run"])
			}
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	_, h := setupServer(t, engine.Config{})
	rec, body := do(t, h, http.MethodGet, "/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"].(map[string]any)["message"], "run not found")
}

func TestListRuns_BadQuery(t *testing.T) {
	_, h := setupServer(t, engine.Config{})

	rec, _ := do(t, h, http.MethodGet, "/v1/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/v1/runs?pipeline=mesh", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[core.ErrorKind]int{
		core.KindNone:      http.StatusOK,
		core.KindConfig:    http.StatusBadRequest,
		core.KindFormat:    http.StatusUnprocessableEntity,
		core.KindExecution: http.StatusBadGateway,
		core.KindIntegrity: http.StatusBadGateway,
		core.KindTimeout:   http.StatusGatewayTimeout,
		core.KindCancelled: http.StatusServiceUnavailable,
		core.KindIO:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), "kind %q", kind)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	e, err := engine.New(context.Background(), engine.Config{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	defer e.Close()

	s, err := New(Config{Engine: e, Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
