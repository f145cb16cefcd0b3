package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/internal/raster"
	"github.com/landslide-lab/sphbox/internal/testutil"
	"github.com/landslide-lab/sphbox/pkg/core"
	"github.com/stretchr/testify/require"
)

// newTestEngine returns an engine on an in-memory ledger.
func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testutil.NewTestLogger(t)
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = t.TempDir()
	}
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// writeDEM writes a width x height ASCII grid with cell size 5 and nodata
// -32768. Every seventh cell is nodata.
func writeDEM(t *testing.T, path string, width, height int) *core.Grid {
	t.Helper()
	g := core.NewGrid(width, height, 5)
	g.OriginX = 1000
	g.OriginY = 2000
	g.NoData = -32768
	for i := range g.Values {
		if i%7 == 3 {
			g.Values[i] = g.NoData
			continue
		}
		g.Values[i] = 100 + float64(i)*0.25
	}
	require.NoError(t, raster.Write(g, path))
	return g
}

func writeDEMPath(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	writeDEM(t, path, 4, 3)
	return path
}

// sampleResult is a 3x2 result with two fields and two steps.
func sampleResult() *codec.ResFile {
	res := &codec.ResFile{
		Meta:   core.GridMeta{Width: 3, Height: 2, CellSize: 5, NoData: core.DefaultNoData},
		Fields: []string{"depth", "velocity"},
	}
	for step := 0; step < 2; step++ {
		s := codec.ResStep{Time: float64(step) * 10}
		for f := range res.Fields {
			v := make([]float32, 6)
			for i := range v {
				v[i] = float32(step*100 + f*10 + i)
			}
			s.Values = append(s.Values, v)
		}
		res.Steps = append(res.Steps, s)
	}
	return res
}

func writeResult(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, codec.EncodeRes(sampleResult(), path))
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// eventLog records observer events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states(runID string) []core.RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.RunState
	for _, ev := range l.events {
		if ev.Kind == EventState && ev.RunID == runID {
			out = append(out, ev.State)
		}
	}
	return out
}

func (l *eventLog) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.Kind == EventOutput {
			out = append(out, ev.Line.Text)
		}
	}
	return out
}

// stubRunnerEnv points StubSucceeds at a result fixture.
func stubRunnerEnv(t *testing.T) []string {
	t.Helper()
	fixture := filepath.Join(t.TempDir(), "fixture.QGIS_res")
	writeResult(t, fixture)
	return []string{"SPHBOX_STUB_RES=" + fixture}
}
