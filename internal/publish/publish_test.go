package publish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/landslide-lab/sphbox/internal/testutil"
	"github.com/landslide-lab/sphbox/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Endpoint:  "localhost:9000",
		AccessKey: "sphbox",
		SecretKey: "secret",
		Bucket:    "results",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.Endpoint = " " }, field: "publish.endpoint"},
		{name: "endpoint with scheme", mutate: func(c *Config) { c.Endpoint = "http://localhost:9000" }, field: "publish.endpoint"},
		{name: "missing secret", mutate: func(c *Config) { c.SecretKey = "" }, field: "publish.access_key"},
		{name: "missing bucket", mutate: func(c *Config) { c.Bucket = "" }, field: "publish.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *core.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, validConfig().Enabled())
}

func TestObjectKey(t *testing.T) {
	cfg := validConfig()
	cfg.Prefix = "/landslides/"
	p, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "landslides/run-1/slope.nc", p.objectKey("run-1", "/tmp/out/slope.nc"))

	p, err = New(validConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1/slope.TOP", p.objectKey("run-1", "slope.TOP"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/x-netcdf", contentType("a.nc"))
	assert.Equal(t, "text/plain", contentType("a.TOP"))
	assert.Equal(t, "application/octet-stream", contentType("a.QGIS_res"))
}

// fakeS3 accepts bucket probes and object uploads.
type fakeS3 struct {
	mu           sync.Mutex
	keys         []string
	contentTypes map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		key := strings.TrimPrefix(r.URL.Path, "/results/")
		f.mu.Lock()
		f.keys = append(f.keys, key)
		f.contentTypes[key] = r.Header.Get("Content-Type")
		f.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestPublish(t *testing.T) {
	fake := &fakeS3{contentTypes: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	dir := t.TempDir()
	nc := filepath.Join(dir, "slope.nc")
	res := filepath.Join(dir, "slope.QGIS_res")
	require.NoError(t, os.WriteFile(nc, []byte("CDF"), 0o644))
	require.NoError(t, os.WriteFile(res, []byte("QGISRES"), 0o644))

	cfg := validConfig()
	cfg.Endpoint = strings.TrimPrefix(srv.URL, "http://")
	cfg.Prefix = "runs"
	p, err := New(cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)

	got, err := p.Publish(context.Background(), "abc", []string{nc, res})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://results/runs/abc/slope.nc", "s3://results/runs/abc/slope.QGIS_res"}, got)
	assert.Equal(t, []string{"runs/abc/slope.nc", "runs/abc/slope.QGIS_res"}, fake.keys)
	assert.Equal(t, "application/x-netcdf", fake.contentTypes["runs/abc/slope.nc"])

	_, err = p.Publish(context.Background(), "abc", []string{filepath.Join(dir, "missing.nc")})
	assert.Equal(t, core.KindIO, core.KindOf(err))

	_, err = p.Publish(context.Background(), " ", nil)
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(&fakeS3{contentTypes: map[string]string{}})
	defer srv.Close()

	cfg := validConfig()
	cfg.Endpoint = strings.TrimPrefix(srv.URL, "http://")
	p, err := New(cfg, nil)
	require.NoError(t, err)

	exists, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "results", p.Bucket())
}
