package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/internal/solver"
	"github.com/landslide-lab/sphbox/internal/testutil"
	"github.com/landslide-lab/sphbox/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingSolver = `read problem
echo "SPH solver starting $problem"
echo "cannot allocate particles" >&2
exit 1
`

func TestSPHModel_SimpleSolverFails(t *testing.T) {
	dir := t.TempDir()
	dem := filepath.Join(dir, "slope.asc")
	writeDEM(t, dem, 3, 2)
	workRoot := t.TempDir()
	outDir := filepath.Join(dir, "results")
	ncPath := filepath.Join(dir, "slope.nc")

	events := &eventLog{}
	e := newTestEngine(t, Config{
		Executable: testutil.WriteStubSolver(t, t.TempDir(), "sph-fail", failingSolver),
		WorkRoot:   workRoot,
		Observer:   events.observe,
	})

	run, err := e.SPHModel(context.Background(), Request{
		Problem:   "slope",
		Mode:      core.ModeSimple,
		DEM:       dem,
		OutputDir: outDir,
		NetCDF:    ncPath,
	})
	require.Error(t, err)

	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Contains(t, execErr.Tail, "cannot allocate particles")

	require.NotNil(t, run)
	assert.Equal(t, core.StateFailed, run.State)
	assert.Equal(t, core.KindExecution, run.ErrorKind)
	assert.Equal(t, core.ModeSimple, run.Mode)
	assert.Empty(t, run.Outputs)

	assert.NoDirExists(t, outDir)
	assert.NoFileExists(t, ncPath)
	assert.Empty(t, dirEntries(t, workRoot), "working directory removed")

	assert.Equal(t, []core.RunState{
		core.StatePending,
		core.StateConvertingInputs,
		core.StateInvokingSolver,
		core.StateFailed,
	}, events.states(run.ID))
	assert.Contains(t, events.lines(), "SPH solver starting slope")
}

func TestSPHModel_SimpleSuccess(t *testing.T) {
	dir := t.TempDir()
	dem := filepath.Join(dir, "slope.asc")
	writeDEM(t, dem, 3, 2)
	workRoot := t.TempDir()
	outDir := filepath.Join(dir, "results")
	ncPath := filepath.Join(dir, "nc", "slope.nc")

	events := &eventLog{}
	e := newTestEngine(t, Config{
		Executable:  testutil.WriteStubSolver(t, t.TempDir(), "sph-ok", testutil.StubSucceeds),
		Runner:      &solver.Runner{Env: stubRunnerEnv(t)},
		WorkRoot:    workRoot,
		KeepWorkdir: true,
		Observer:    events.observe,
	})

	run, err := e.SPHModel(context.Background(), Request{
		Problem:   "slope",
		DEM:       dem,
		Preset:    "debris_flow",
		OutputDir: outDir,
		NetCDF:    ncPath,
		Label:     "debris",
	})
	require.NoError(t, err)
	assert.Equal(t, core.StateDone, run.State)
	assert.Equal(t, "debris", run.Label)
	assert.Equal(t, []string{
		filepath.Join(outDir, "slope.QGIS_res"),
		filepath.Join(outDir, "slope.post.msh"),
		filepath.Join(outDir, "slope.post.res"),
		ncPath,
	}, run.Outputs)
	for _, out := range run.Outputs {
		assert.FileExists(t, out)
	}

	res, err := codec.DecodeRes(filepath.Join(outDir, "slope.QGIS_res"))
	require.NoError(t, err)
	assert.Equal(t, sampleResult().Steps, res.Steps)

	// The kept working directory shows what the solver was given.
	work := dirEntries(t, workRoot)
	require.Len(t, work, 1)
	workDir := filepath.Join(workRoot, work[0])
	assert.ElementsMatch(t, []string{
		"slope.TOP", "slope.MASTER.DAT", "slope.DAT",
		"slope.QGIS_res", "slope.post.msh", "slope.post.res",
	}, dirEntries(t, workDir))

	data, err := codec.ReadDAT(filepath.Join(workDir, "slope.DAT"))
	require.NoError(t, err)
	assert.Equal(t, "slope", data.Problem)
	assert.Equal(t, 1800.0, data.Entries["dens"])
	assert.Equal(t, 1.0, data.Entries["nfrict"])

	master, err := codec.ReadDAT(filepath.Join(workDir, "slope.MASTER.DAT"))
	require.NoError(t, err)
	assert.Equal(t, []string{"dt", "time_end", "print_step"}, master.Order)

	assert.Equal(t, []core.RunState{
		core.StatePending,
		core.StateConvertingInputs,
		core.StateInvokingSolver,
		core.StateConvertingOutputs,
		core.StateDone,
	}, events.states(run.ID))
	assert.Contains(t, events.lines(), "second answer slope")
}

func TestSPHModel_SuppliedDATFiles(t *testing.T) {
	dir := t.TempDir()
	top := filepath.Join(dir, "terrain.TOP")
	writeDEM(t, filepath.Join(dir, "dem.asc"), 2, 2)
	_, err := newTestEngine(t, Config{}).DemToTop(context.Background(), filepath.Join(dir, "dem.asc"), top)
	require.NoError(t, err)

	masterSrc := filepath.Join(dir, "custom.MASTER.DAT")
	dataSrc := filepath.Join(dir, "custom.DAT")
	require.NoError(t, os.WriteFile(masterSrc, []byte("legacy master\n"), 0o644))
	require.NoError(t, os.WriteFile(dataSrc, []byte("legacy data\n"), 0o644))
	points := filepath.Join(dir, "release.csv")
	require.NoError(t, os.WriteFile(points, []byte("x,y,h\n1,2,3\n4,5,6\n"), 0o644))

	workRoot := t.TempDir()
	e := newTestEngine(t, Config{
		Executable:  testutil.WriteStubSolver(t, t.TempDir(), "sph-ok", testutil.StubSucceeds),
		Runner:      &solver.Runner{Env: stubRunnerEnv(t)},
		WorkRoot:    workRoot,
		KeepWorkdir: true,
	})
	run, err := e.SPHModel(context.Background(), Request{
		Problem:   "slide",
		Top:       top,
		Points:    points,
		MasterDAT: masterSrc,
		DataDAT:   dataSrc,
		OutputDir: filepath.Join(dir, "out"),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StateDone, run.State)

	work := dirEntries(t, workRoot)
	require.Len(t, work, 1)
	workDir := filepath.Join(workRoot, work[0])

	master, err := os.ReadFile(filepath.Join(workDir, "slide.MASTER.DAT"))
	require.NoError(t, err)
	assert.Equal(t, "legacy master\n", string(master))

	pts, err := codec.ReadPoints(filepath.Join(workDir, "slide.PTS"))
	require.NoError(t, err)
	assert.Equal(t, []codec.Point{{X: 1, Y: 2, H: 3}, {X: 4, Y: 5, H: 6}}, pts)
}

func TestSPHModel_AdvancedRejectsParams(t *testing.T) {
	tests := []struct {
		name   string
		params core.Params
		field  string
	}{
		{name: "unknown key", params: core.Params{"viscosity": 1}, field: "viscosity"},
		{name: "integer key with fraction", params: core.Params{"time_end": 10.5}, field: "time_end"},
		{name: "above maximum", params: core.Params{"dens": 5000}, field: "dens"},
		{name: "below minimum", params: core.Params{"dt": 0}, field: "dt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			top := filepath.Join(dir, "slope.TOP")
			require.NoError(t, os.WriteFile(top, []byte("ictop\n11\nnp\tdeltx\n1\t1\nX Y Z\n0\t0\t1\nterrain\n0\n"), 0o644))
			workRoot := t.TempDir()
			e := newTestEngine(t, Config{
				Executable: testutil.WriteStubSolver(t, t.TempDir(), "sph-ok", testutil.StubSucceeds),
				WorkRoot:   workRoot,
			})

			run, err := e.SPHModel(context.Background(), Request{
				Problem:   "slope",
				Mode:      core.ModeAdvanced,
				Top:       top,
				Params:    tt.params,
				OutputDir: filepath.Join(dir, "out"),
			})
			var cfgErr *core.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Equal(t, core.StateFailed, run.State)
			assert.Equal(t, core.ModeAdvanced, run.Mode)
			assert.Empty(t, dirEntries(t, workRoot), "nothing staged")
		})
	}
}

func TestSPHModel_AdvancedWritesParams(t *testing.T) {
	dir := t.TempDir()
	dem := filepath.Join(dir, "slope.asc")
	writeDEM(t, dem, 3, 2)
	workRoot := t.TempDir()
	e := newTestEngine(t, Config{
		Executable:  testutil.WriteStubSolver(t, t.TempDir(), "sph-ok", testutil.StubSucceeds),
		Runner:      &solver.Runner{Env: stubRunnerEnv(t)},
		WorkRoot:    workRoot,
		KeepWorkdir: true,
	})

	_, err := e.SPHModel(context.Background(), Request{
		Problem:   "slope",
		Mode:      core.ModeAdvanced,
		DEM:       dem,
		Params:    core.Params{"dt": 0.05, "time_end": 200, "tanfi8": 0.3},
		OutputDir: filepath.Join(dir, "out"),
	})
	require.NoError(t, err)

	work := dirEntries(t, workRoot)
	require.Len(t, work, 1)
	master, err := codec.ReadDAT(filepath.Join(workRoot, work[0], "slope.MASTER.DAT"))
	require.NoError(t, err)
	assert.Equal(t, 0.05, master.Entries["dt"])
	assert.Equal(t, 200.0, master.Entries["time_end"])
	assert.Equal(t, 5.0, master.Entries["print_step"])

	data, err := codec.ReadDAT(filepath.Join(workRoot, work[0], "slope.DAT"))
	require.NoError(t, err)
	assert.Equal(t, 0.3, data.Entries["tanfi8"])
	assert.Equal(t, 2000.0, data.Entries["dens"])
}

func TestSPHModel_MissingExecutable(t *testing.T) {
	dir := t.TempDir()
	dem := filepath.Join(dir, "slope.asc")
	writeDEM(t, dem, 3, 2)
	workRoot := t.TempDir()

	e := newTestEngine(t, Config{
		Executable: filepath.Join(dir, "no-such-solver"),
		WorkRoot:   workRoot,
	})
	run, err := e.SPHModel(context.Background(), Request{
		Problem:   "slope",
		DEM:       dem,
		OutputDir: filepath.Join(dir, "out"),
	})
	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "solver.executable", cfgErr.Field)
	assert.Equal(t, core.StateFailed, run.State)
	assert.Empty(t, dirEntries(t, workRoot))
}

func TestSPHModel_NetCDFFailureRemovesOutputs(t *testing.T) {
	dir := t.TempDir()
	// A 4x4 DEM cannot georeference the 3x2 result.
	dem := filepath.Join(dir, "slope.asc")
	writeDEM(t, dem, 4, 4)
	outDir := filepath.Join(dir, "results")
	workRoot := t.TempDir()

	e := newTestEngine(t, Config{
		Executable: testutil.WriteStubSolver(t, t.TempDir(), "sph-ok", testutil.StubSucceeds),
		Runner:     &solver.Runner{Env: stubRunnerEnv(t)},
		WorkRoot:   workRoot,
	})
	run, err := e.SPHModel(context.Background(), Request{
		Problem:   "slope",
		DEM:       dem,
		OutputDir: outDir,
		NetCDF:    filepath.Join(outDir, "slope.nc"),
	})
	assert.Equal(t, core.KindFormat, core.KindOf(err))
	assert.Equal(t, core.StateFailed, run.State)
	assert.NoDirExists(t, outDir)
	assert.Empty(t, dirEntries(t, workRoot))
}

func TestSPHModel_Timeout(t *testing.T) {
	dir := t.TempDir()
	dem := filepath.Join(dir, "slope.asc")
	writeDEM(t, dem, 3, 2)
	pidFile := filepath.Join(t.TempDir(), "child.pid")

	e := newTestEngine(t, Config{
		Executable: testutil.WriteStubSolver(t, t.TempDir(), "sph-hang", testutil.StubHangs),
		Runner:     &solver.Runner{Env: []string{"SPHBOX_STUB_PIDFILE=" + pidFile}},
		Timeout:    time.Minute,
	})
	run, err := e.SPHModel(context.Background(), Request{
		Problem:   "slope",
		DEM:       dem,
		OutputDir: filepath.Join(dir, "out"),
		Timeout:   time.Second,
	})
	var timeoutErr *core.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, time.Second, timeoutErr.After)
	assert.Equal(t, core.KindTimeout, run.ErrorKind)
}

func TestSPHModel_CancelDuringSolver(t *testing.T) {
	dir := t.TempDir()
	dem := filepath.Join(dir, "slope.asc")
	writeDEM(t, dem, 3, 2)
	pidFile := filepath.Join(t.TempDir(), "child.pid")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newTestEngine(t, Config{
		Executable: testutil.WriteStubSolver(t, t.TempDir(), "sph-hang", testutil.StubHangs),
		Runner:     &solver.Runner{Env: []string{"SPHBOX_STUB_PIDFILE=" + pidFile}},
		Observer: func(ev Event) {
			if ev.Kind == EventOutput && strings.Contains(ev.Line.Text, "started child") {
				cancel()
			}
		},
	})
	run, err := e.SPHModel(ctx, Request{
		Problem:   "slope",
		DEM:       dem,
		OutputDir: filepath.Join(dir, "out"),
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.StateFailed, run.State)
	assert.Equal(t, core.KindCancelled, run.ErrorKind)

	pid := testutil.ReadPID(t, pidFile)
	assert.Eventually(t, func() bool { return testutil.ProcessGone(pid) }, 5*time.Second, 50*time.Millisecond)
}

func TestSPHModel_WrongPipeline(t *testing.T) {
	e := newTestEngine(t, Config{})
	_, err := e.SPHModel(context.Background(), Request{Pipeline: core.PipelineDemToTop})
	assert.Equal(t, core.KindConfig, core.KindOf(err))
}

func TestRequest_Validate(t *testing.T) {
	base := func() Request {
		return Request{
			Pipeline:  core.PipelineSPHModel,
			Problem:   "slope",
			Top:       "slope.TOP",
			OutputDir: "out",
		}
	}
	tests := []struct {
		name   string
		mutate func(r *Request)
		field  string
	}{
		{name: "valid simple", mutate: func(r *Request) {}},
		{name: "valid advanced", mutate: func(r *Request) { r.Mode = core.ModeAdvanced; r.Params = core.Params{"dt": 0.2} }},
		{name: "missing problem", mutate: func(r *Request) { r.Problem = "" }, field: "problem"},
		{name: "problem with path", mutate: func(r *Request) { r.Problem = "a/b" }, field: "problem"},
		{name: "unknown mode", mutate: func(r *Request) { r.Mode = "expert" }, field: "mode"},
		{name: "neither dem nor top", mutate: func(r *Request) { r.Top = "" }, field: "top"},
		{name: "both dem and top", mutate: func(r *Request) { r.DEM = "dem.asc" }, field: "top"},
		{name: "top with wrong extension", mutate: func(r *Request) { r.Top = "slope.txt" }, field: "top"},
		{name: "missing output dir", mutate: func(r *Request) { r.OutputDir = "" }, field: "output_dir"},
		{name: "params in simple mode", mutate: func(r *Request) { r.Params = core.Params{"dt": 0.2} }, field: "params"},
		{name: "lone master dat", mutate: func(r *Request) { r.MasterDAT = "m.DAT" }, field: "master_dat"},
		{name: "preset with dat files", mutate: func(r *Request) {
			r.MasterDAT, r.DataDAT, r.Preset = "m.DAT", "d.DAT", "default"
		}, field: "preset"},
		{name: "preset in advanced mode", mutate: func(r *Request) { r.Mode = core.ModeAdvanced; r.Preset = "default" }, field: "mode"},
		{name: "negative timeout", mutate: func(r *Request) { r.Timeout = -time.Second }, field: "timeout"},
		{name: "dem_to_top without output", mutate: func(r *Request) {
			*r = Request{Pipeline: core.PipelineDemToTop, Input: "dem.asc"}
		}, field: "output"},
		{name: "res_to_netcdf without input", mutate: func(r *Request) {
			*r = Request{Pipeline: core.PipelineResToNetCDF, Output: "x.nc"}
		}, field: "input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(&r)
			err := r.Validate()
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
