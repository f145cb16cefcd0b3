package codec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/landslide-lab/sphbox/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frank.DAT")
	params := []Param{
		{Name: "cgra", Value: 9.8},
		{Name: "dens", Value: 2000, Integer: true},
		{Name: "tanfi8", Value: 0.218},
	}
	require.NoError(t, WriteDataFile(path, "frank", params))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# sphbox data file\nproblem = frank\ncgra = 9.8\ndens = 2000\ntanfi8 = 0.218\n", string(data))

	dat, err := ReadDAT(path)
	require.NoError(t, err)
	assert.Equal(t, "frank", dat.Problem)
	assert.Equal(t, []string{"cgra", "dens", "tanfi8"}, dat.Order)
	assert.Equal(t, 2000.0, dat.Entries["dens"])
}

func TestWriteMasterFile_Rejects(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, WriteMasterFile(filepath.Join(dir, "a.MASTER.DAT"), "", nil))
	assert.Error(t, WriteMasterFile(filepath.Join(dir, "b.MASTER.DAT"), "p", []Param{{Name: "bad key", Value: 1}}))
	assert.NoFileExists(t, filepath.Join(dir, "b.MASTER.DAT"))
}

func TestReadDAT_Malformed(t *testing.T) {
	tests := map[string]string{
		"missing equals": "problem = x\ndt 0.1\n",
		"bad number":     "dt = fast\n",
		"duplicate":      "dt = 1\ndt = 2\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "x.DAT")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := ReadDAT(path)
			assert.Equal(t, core.KindFormat, core.KindOf(err))
		})
	}
}

func TestPoints(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "points.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,x,y,height\n1,10.5,20,3\n2,11,21.25,4\n"), 0o644))

	points, err := ReadPointsCSV(csvPath, "height")
	require.NoError(t, err)
	assert.Equal(t, []Point{{10.5, 20, 3}, {11, 21.25, 4}}, points)

	ptsPath := filepath.Join(dir, "slide.PTS")
	require.NoError(t, WritePoints(ptsPath, points))
	data, err := os.ReadFile(ptsPath)
	require.NoError(t, err)
	assert.Equal(t, "np\n2\n10.5\t20\t3\n11\t21.25\t4\n", string(data))

	back, err := ReadPoints(ptsPath)
	require.NoError(t, err)
	assert.Equal(t, points, back)
}

func TestReadPoints_Malformed(t *testing.T) {
	tests := map[string]string{
		"huge count":  "np\n99999999999999\n1\t2\t3\n",
		"short count": "np\n3\n1\t2\t3\n",
		"bad point":   "np\n1\n1\t2\n",
		"no header":   "1\n1\t2\t3\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "slide.PTS")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			var err error
			require.NotPanics(t, func() { _, err = ReadPoints(path) })
			assert.Equal(t, core.KindFormat, core.KindOf(err), "err = %v", err)
		})
	}
}

func TestReadPointsCSV_NoHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,2,3\n4,5,6\n"), 0o644))
	points, err := ReadPointsCSV(path, "")
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestReadPointsCSV_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.csv")
	require.NoError(t, os.WriteFile(path, []byte("x,y\n1,2\n"), 0o644))
	_, err := ReadPointsCSV(path, "")
	assert.Equal(t, core.KindFormat, core.KindOf(err))
}
