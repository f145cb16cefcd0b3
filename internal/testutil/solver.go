package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
)

// Stub solver scripts. Each reads the problem name from stdin the way the
// real solver does.
const (
	// StubFails prints progress and an error, then exits 3.
	StubFails = `read problem
echo "SPH solver starting $problem"
echo "step 10 of 20  50%"
echo "fatal: particle escaped the domain" >&2
exit 3
`
	// StubSucceeds copies $SPHBOX_STUB_RES to <problem>.QGIS_res and writes
	// the auxiliary mesh files.
	StubSucceeds = `read problem
read again
echo "SPH solver starting $problem"
echo "second answer $again"
echo "progress 50%"
cp "$SPHBOX_STUB_RES" "$problem.QGIS_res" || exit 9
echo mesh > "$problem.post.msh"
echo res > "$problem.post.res"
printf 'progress 100%%\r\n'
exit 0
`
	// StubNoOutput exits 0 after writing only an auxiliary file.
	StubNoOutput = `read problem
echo partial > "$problem.post.msh"
echo "done"
exit 0
`
	// StubHangs starts a background child, records its pid in
	// $SPHBOX_STUB_PIDFILE and waits forever.
	StubHangs = `read problem
echo scratch > "$problem.scratch"
sleep 300 &
echo $! > "$SPHBOX_STUB_PIDFILE"
echo "started child"
wait
`
)

// WriteStubSolver writes an executable /bin/sh script holding body into dir
// and returns its absolute path. The test is skipped on Windows.
func WriteStubSolver(t testing.TB, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub solvers are shell scripts")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write stub solver: %v", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("failed to resolve stub solver path: %v", err)
	}
	return abs
}

// ReadPID reads a pid written by StubHangs.
func ReadPID(t testing.TB, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("bad pid file content %q: %v", data, err)
	}
	return pid
}

// ProcessGone reports whether pid has exited. Zombies count as exited,
// since reaping depends on whatever runs as init.
func ProcessGone(pid int) bool {
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err == nil {
		// Format: pid (comm) state ...
		if i := strings.LastIndexByte(string(stat), ')'); i >= 0 && i+2 < len(stat) {
			return stat[i+2] == 'Z'
		}
		return false
	}
	if runtime.GOOS == "linux" {
		return os.IsNotExist(err)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return p.Signal(syscall.Signal(0)) != nil
}
