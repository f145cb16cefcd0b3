package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landslide-lab/sphbox/internal/cli/config"
	"github.com/landslide-lab/sphbox/internal/jobfile"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string)
		args      []string
		wantErr   bool
		wantFiles []string
	}{
		{
			name: "init empty directory",
			args: []string{},
			wantFiles: []string{
				"sphbox.yaml",
				"jobs.hcl",
				".gitignore",
				"dems",
				"inputs",
			},
		},
		{
			name: "init existing config without force",
			setupDir: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "sphbox.yaml"), []byte("existing"), 0o600))
			},
			args:    []string{},
			wantErr: true,
		},
		{
			name: "init existing config with force",
			setupDir: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "sphbox.yaml"), []byte("existing"), 0o600))
			},
			args:      []string{"--force"},
			wantFiles: []string{"sphbox.yaml", "jobs.hcl"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config.ResetConfig()
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)

			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				_, err := os.Stat(filepath.Join(tmpDir, f))
				assert.NoError(t, err, "expected %q to exist", f)
			}
		})
	}
}

func TestInitCommand_NewDirectory(t *testing.T) {
	config.ResetConfig()
	target := filepath.Join(t.TempDir(), "north-valley")

	cmd := NewInitCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{target})
	require.NoError(t, cmd.Execute())

	assert.FileExists(t, filepath.Join(target, "sphbox.yaml"))
	assert.Contains(t, buf.String(), "sphbox.yaml")
	assert.Contains(t, buf.String(), ".gitignore")
}

func TestInitCreatesValidConfig(t *testing.T) {
	config.ResetConfig()
	tmpDir := t.TempDir()

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{tmpDir})
	require.NoError(t, cmd.Execute())

	cfg, err := config.LoadConfig(filepath.Join(tmpDir, "sphbox.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, "sph-solver", cfg.Solver.Executable)
	assert.Equal(t, 2, cfg.Workers)
	assert.Contains(t, cfg.PresetSet(), "mud")
	assert.Equal(t, filepath.Join(tmpDir, ".sphbox", "state.db"), cfg.StatePath)
	config.ResetConfig()

	jobs, err := jobfile.Load(filepath.Join(tmpDir, "jobs.hcl"))
	require.NoError(t, err)
	assert.Len(t, jobs.Runs, 2)
	assert.Equal(t, 2, jobs.Workers)
}
