// Package solver launches the external SPH solver, streams its output and
// verifies the files it produces. It is the only package that starts
// external processes.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// DefaultWaitDelay bounds how long output is drained after the solver exits
// while a descendant still holds its stdout or stderr open.
const DefaultWaitDelay = 2 * time.Second

// Runner invokes the solver. The zero value runs the job's executable
// directly with no extra arguments.
type Runner struct {
	// Launcher is prepended to the command line, e.g. ["wine", "cmd.exe", "/c"].
	Launcher []string
	// Args are appended after the executable.
	Args []string
	// Env is added to the inherited environment.
	Env []string
	// WaitDelay overrides DefaultWaitDelay.
	WaitDelay time.Duration
	Logger    *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// Command returns the argv the runner would execute for exe, after
// resolving the program to launch. It fails with ConfigError when the
// program cannot be found or is not executable.
func (r *Runner) Command(exe string) ([]string, error) {
	if exe == "" {
		return nil, core.ConfigErrorf("solver.executable", "solver executable is not configured")
	}
	if len(r.Launcher) == 0 {
		path, err := exec.LookPath(exe)
		if err != nil {
			return nil, core.ConfigErrorf("solver.executable", "%q cannot be run: %v", exe, err)
		}
		// The solver runs in the job directory, so relative paths must be pinned now.
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return append([]string{path}, r.Args...), nil
	}

	launcher, err := exec.LookPath(r.Launcher[0])
	if err != nil {
		return nil, core.ConfigErrorf("solver.launcher", "%q cannot be run: %v", r.Launcher[0], err)
	}
	// Under a launcher the executable only has to exist.
	if strings.ContainsAny(exe, `/\`) {
		if _, err := os.Stat(exe); err != nil {
			return nil, core.ConfigErrorf("solver.executable", "%q not found: %v", exe, err)
		}
		if abs, err := filepath.Abs(exe); err == nil {
			exe = abs
		}
	}
	argv := append([]string{launcher}, r.Launcher[1:]...)
	argv = append(argv, exe)
	return append(argv, r.Args...), nil
}

// Check validates job without starting anything or writing to disk.
func (r *Runner) Check(job *core.Job) ([]string, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	argv, err := r.Command(job.Executable)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(job.WorkDir)
	if err != nil {
		return nil, core.ConfigErrorf("work_dir", "%v", err)
	}
	if !info.IsDir() {
		return nil, core.ConfigErrorf("work_dir", "%s is not a directory", job.WorkDir)
	}
	for _, in := range job.Inputs {
		path := in
		if !filepath.IsAbs(path) {
			path = filepath.Join(job.WorkDir, in)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, core.ConfigErrorf("inputs", "input %s is not readable: %v", in, err)
		}
		f.Close()
	}
	return argv, nil
}

// Run executes job in job.WorkDir and waits for it to finish.
//
// stdin receives the problem name twice, answering the solver's prompts.
// Each output line is passed to onOutput, which may be nil. A timeout of
// zero disables the time limit. On every failure the files the solver
// created in the working directory are removed.
func (r *Runner) Run(ctx context.Context, job *core.Job, onOutput func(core.OutputLine), timeout time.Duration) (*core.Result, error) {
	argv, err := r.Check(job)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock, err := acquireDirLock(job.WorkDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			r.logger().Warn("failed to release working directory lock", slog.String("error", err.Error()))
		}
	}()

	before, err := snapshot(job.WorkDir)
	if err != nil {
		return nil, err
	}

	log := r.logger().With(slog.String("problem", job.Problem), slog.String("work_dir", job.WorkDir))
	out := newCollector(onOutput)
	stdout := &lineWriter{stream: core.Stdout, c: out}
	stderr := &lineWriter{stream: core.Stderr, c: out}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = job.WorkDir
	cmd.Stdin = strings.NewReader(job.Problem + "\n" + job.Problem + "\n")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	setProcessGroup(cmd)

	fail := func(err error) (*core.Result, error) {
		removed, cerr := removeCreated(job.WorkDir, before)
		if len(removed) > 0 {
			log.Debug("removed solver files", slog.Any("paths", removed))
		}
		if cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	log.Info("starting solver", slog.String("command", strings.Join(argv, " ")))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fail(core.ConfigErrorf("solver.executable", "failed to start %s: %v", argv[0], err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer:
		log.Warn("solver timed out, killing process tree", slog.Duration("timeout", timeout))
		r.kill(cmd, done)
		stdout.Close()
		stderr.Close()
		return fail(&core.TimeoutError{After: timeout})
	case <-ctx.Done():
		log.Warn("solver cancelled, killing process tree")
		r.kill(cmd, done)
		stdout.Close()
		stderr.Close()
		return fail(fmt.Errorf("solver cancelled: %w", ctx.Err()))
	}
	// Descendants do not outlive the solver.
	_ = killProcessTree(cmd)
	stdout.Close()
	stderr.Close()
	elapsed := time.Since(start)

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			log.Info("solver failed", slog.Int("exit_code", exitErr.ExitCode()), slog.Duration("duration", elapsed))
			return fail(&core.ExecutionError{ExitCode: exitErr.ExitCode(), Tail: out.Tail()})
		}
		if !errors.Is(waitErr, exec.ErrWaitDelay) {
			return fail(fmt.Errorf("wait for solver: %w", waitErr))
		}
	}

	res := &core.Result{
		WorkDir:  job.WorkDir,
		ResFile:  job.ResFile(),
		ExitCode: 0,
		Duration: elapsed,
	}
	if !produced(res.ResFile, before) {
		log.Warn("solver exited 0 without producing results", slog.String("missing", res.ResFile))
		return fail(&core.IntegrityError{Missing: []string{filepath.Base(res.ResFile)}})
	}
	for _, aux := range job.AuxiliaryFiles() {
		if produced(aux, before) {
			res.Auxiliary = append(res.Auxiliary, aux)
		}
	}
	log.Info("solver finished", slog.Duration("duration", elapsed))
	return res, nil
}

// kill terminates the process tree and waits for Wait to return.
func (r *Runner) kill(cmd *exec.Cmd, done <-chan error) {
	if err := killProcessTree(cmd); err != nil {
		r.logger().Warn("failed to kill solver process tree", slog.String("error", err.Error()))
		_ = cmd.Process.Kill()
	}
	<-done
}
