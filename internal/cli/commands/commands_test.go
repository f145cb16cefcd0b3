package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landslide-lab/sphbox/pkg/core"
)

func TestNewDemToTopCommand(t *testing.T) {
	cmd := NewDemToTopCommand()

	assert.Equal(t, "dem2top <dem> [top]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")
	assert.Error(t, cmd.Args(cmd, nil))
	assert.Error(t, cmd.Args(cmd, []string{"a", "b", "c"}))
}

func TestNewResToNetCDFCommand(t *testing.T) {
	cmd := NewResToNetCDFCommand()

	assert.Equal(t, "res2netcdf <result> [netcdf]", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("dem"), "flag dem should exist")
}

func TestNewModelCommand(t *testing.T) {
	cmd := NewModelCommand()

	assert.Equal(t, "model", cmd.Use)
	require.Len(t, cmd.Commands(), 2)

	flags := []string{"dem", "top", "points", "output-dir", "netcdf", "label", "run-timeout"}
	for _, sub := range cmd.Commands() {
		for _, flag := range flags {
			assert.NotNil(t, sub.Flags().Lookup(flag), "%s: flag %q should exist", sub.Name(), flag)
		}
	}

	simple, _, err := cmd.Find([]string{"simple"})
	require.NoError(t, err)
	for _, flag := range []string{"preset", "master-dat", "data-dat"} {
		assert.NotNil(t, simple.Flags().Lookup(flag), "flag %q should exist", flag)
	}

	advanced, _, err := cmd.Find([]string{"advanced"})
	require.NoError(t, err)
	param := advanced.Flags().Lookup("param")
	require.NotNil(t, param)
	assert.Equal(t, "p", param.Shorthand)
	assert.NotNil(t, advanced.Flags().Lookup("params-file"))
}

func TestNewRunsCommand(t *testing.T) {
	cmd := NewRunsCommand()

	list, _, err := cmd.Find([]string{"list"})
	require.NoError(t, err)
	for _, flag := range []string{"pipeline", "status", "limit"} {
		assert.NotNil(t, list.Flags().Lookup(flag), "flag %q should exist", flag)
	}
	assert.Equal(t, "20", list.Flags().Lookup("limit").DefValue)

	show, _, err := cmd.Find([]string{"show"})
	require.NoError(t, err)
	assert.Equal(t, "show <id>", show.Use)
}

func TestNewBatchCommand(t *testing.T) {
	cmd := NewBatchCommand()

	assert.Equal(t, "batch <jobs.hcl>", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("workers"))
	assert.NotNil(t, cmd.Flags().Lookup("dry-run"))
}

func TestNewWatchCommand(t *testing.T) {
	cmd := NewWatchCommand()

	assert.Equal(t, "watch [dir...]", cmd.Use)
	assert.Equal(t, "500ms", cmd.Flags().Lookup("debounce").DefValue)
	assert.Equal(t, "r", cmd.Flags().Lookup("recursive").Shorthand)
}

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand()

	assert.Equal(t, "serve", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("addr"))
	assert.NotNil(t, cmd.Flags().Lookup("watch"))
}

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		path, ext, want string
	}{
		{"dems/slope.asc", ".TOP", "dems/slope.TOP"},
		{"out/north.QGIS_res", ".nc", "out/north.nc"},
		{"noext", ".TOP", "noext.TOP"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, replaceExt(tt.path, tt.ext))
	}
}

func TestFormatOverrides(t *testing.T) {
	got := formatOverrides(core.Params{"tanfi8": 0.3, "dens": 1900, "colour": 2})
	assert.Equal(t, "dens=1900 tanfi8=0.3", got)
	assert.Empty(t, formatOverrides(nil))
}
