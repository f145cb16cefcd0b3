package engine

// run.go - run lifecycle shared by every pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// runCtx tracks one run while its pipeline executes.
type runCtx struct {
	e   *Engine
	req *Request
	run *core.Run
	log *slog.Logger

	state core.RunState
	// outputs are the artifacts reported on success.
	outputs []string
	// created are undone, newest first, when the run fails.
	created []artifact
}

// artifact is a path the run wrote. When the path held a file before the
// run, backup keeps that file until the run settles.
type artifact struct {
	path   string
	backup string
}

// Run executes req and returns the run as recorded in the ledger. The
// returned run is nil only when the request names no known pipeline or the
// ledger cannot be written.
func (e *Engine) Run(ctx context.Context, req Request) (*core.Run, error) {
	pipeline, err := core.ParsePipeline(string(req.Pipeline))
	if err != nil {
		return nil, err
	}
	req.Pipeline = pipeline

	// Ledger writes outlive cancellation so a cancelled run is still closed.
	ledger := context.WithoutCancel(ctx)
	run, err := e.store.CreateRun(ledger, &core.Run{
		Pipeline: req.Pipeline,
		Mode:     req.mode(),
		Label:    req.Label,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	rc := &runCtx{
		e:     e,
		req:   &req,
		run:   run,
		state: core.StatePending,
		log: e.logger.With(
			slog.String("run_id", run.ID),
			slog.String("pipeline", string(req.Pipeline))),
	}
	rc.log.Info("starting run", slog.String("label", req.Label))
	e.notify(rc.event(core.StatePending, nil))

	runErr := rc.execute(ctx)
	if runErr == nil {
		runErr = rc.publish(ctx)
	}
	if runErr == nil {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run cancelled: %w", err)
		}
	}

	if runErr != nil {
		rc.fail(ledger, runErr)
	} else if err := e.store.CompleteRun(ledger, run.ID, core.StateDone, nil, rc.outputs); err != nil {
		rc.cleanup()
		return nil, fmt.Errorf("failed to complete run: %w", err)
	} else {
		rc.commit()
		rc.state = core.StateDone
		rc.log.Info("run completed", slog.Any("outputs", rc.outputs))
		e.notify(rc.event(core.StateDone, nil))
	}

	final, err := e.store.GetRun(ledger, run.ID)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	return final, runErr
}

func (rc *runCtx) execute(ctx context.Context) error {
	if err := rc.req.Validate(); err != nil {
		return err
	}
	switch rc.req.Pipeline {
	case core.PipelineDemToTop:
		return rc.demToTop(ctx)
	case core.PipelineResToNetCDF:
		return rc.resToNetCDF(ctx)
	case core.PipelineSPHModel:
		return rc.sphModel(ctx)
	}
	return core.ConfigErrorf("pipeline", "unknown pipeline %q", rc.req.Pipeline)
}

// advance moves the run to the next stage, first checking for cancellation.
func (rc *runCtx) advance(ctx context.Context, to core.RunState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled before %s: %w", to, err)
	}
	if err := rc.e.store.TransitionRun(context.WithoutCancel(ctx), rc.run.ID, to); err != nil {
		return fmt.Errorf("failed to record state %s: %w", to, err)
	}
	rc.log.Debug("run state changed", slog.String("from", string(rc.state)), slog.String("to", string(to)))
	rc.state = to
	rc.e.notify(rc.event(to, nil))
	return nil
}

func (rc *runCtx) fail(ledger context.Context, runErr error) {
	rc.cleanup()
	rc.log.Error("run failed",
		slog.String("state", string(rc.state)),
		slog.String("kind", string(core.KindOf(runErr))),
		slog.String("error", runErr.Error()))
	if err := rc.e.store.CompleteRun(ledger, rc.run.ID, core.StateFailed, runErr, nil); err != nil {
		rc.log.Error("failed to record run failure", slog.String("error", err.Error()))
	}
	rc.state = core.StateFailed
	rc.e.notify(rc.event(core.StateFailed, runErr))
}

// cleanup removes everything the run created and puts back the files its
// outputs replaced.
func (rc *runCtx) cleanup() {
	for i := len(rc.created) - 1; i >= 0; i-- {
		a := rc.created[i]
		if a.backup != "" {
			if err := os.Rename(a.backup, a.path); err != nil {
				rc.log.Warn("failed to restore replaced file", slog.String("path", a.path),
					slog.String("backup", a.backup), slog.String("error", err.Error()))
				continue
			}
			rc.log.Debug("restored replaced file", slog.String("path", a.path))
			continue
		}
		if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			rc.log.Warn("failed to remove run output", slog.String("path", a.path), slog.String("error", err.Error()))
			continue
		}
		rc.log.Debug("removed run output", slog.String("path", a.path))
	}
	rc.created = nil
}

// commit drops the backups of replaced files once the run has succeeded.
func (rc *runCtx) commit() {
	for _, a := range rc.created {
		if a.backup == "" {
			continue
		}
		if err := os.Remove(a.backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
			rc.log.Warn("failed to remove backup", slog.String("path", a.backup), slog.String("error", err.Error()))
		}
	}
	rc.created = nil
}

// writeOutput writes the artifact at path through write and records it.
// A file already at path is kept aside so a failed run can restore it.
func (rc *runCtx) writeOutput(path string, write func() error) error {
	backup, err := keepAside(path)
	if err != nil {
		return err
	}
	rc.created = append(rc.created, artifact{path: path, backup: backup})
	if err := write(); err != nil {
		return err
	}
	rc.outputs = append(rc.outputs, path)
	return nil
}

// keepAside links an existing file at path to a hidden sibling, copying
// when the filesystem has no hard links. It returns "" when path is absent.
func keepAside(path string) (string, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", &core.IOError{Op: "stat", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &core.IOError{Op: "write", Path: path, Err: errors.New("output path exists and is not a regular file")}
	}
	backup := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".sphbox-prev")
	if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", &core.IOError{Op: "remove", Path: backup, Err: err}
	}
	if err := os.Link(path, backup); err != nil {
		if err := codec.CopyFile(path, backup); err != nil {
			return "", err
		}
	}
	return backup, nil
}

// mkdirAll creates dir and records every directory it had to create.
func (rc *runCtx) mkdirAll(dir string) error {
	var missing []string
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &core.IOError{Op: "mkdir", Path: dir, Err: err}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		rc.created = append(rc.created, artifact{path: missing[i]})
	}
	return nil
}

func (rc *runCtx) event(s core.RunState, err error) Event {
	return Event{
		Kind:     EventState,
		RunID:    rc.run.ID,
		Pipeline: rc.req.Pipeline,
		Label:    rc.req.Label,
		State:    s,
		Err:      err,
	}
}

func (rc *runCtx) publish(ctx context.Context) error {
	if rc.e.publisher == nil || len(rc.outputs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled before publishing: %w", err)
	}
	remote, err := rc.e.publisher.Publish(ctx, rc.run.ID, rc.outputs)
	if err != nil {
		return fmt.Errorf("failed to publish outputs: %w", err)
	}
	rc.log.Info("published outputs", slog.Any("objects", remote))
	rc.outputs = append(rc.outputs, remote...)
	return nil
}
