package patternplot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/simlidar/internal/simlidar/pattern"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestAnglesOf_InvertsDirection(t *testing.T) {
	want, err := pattern.UniformAngles(6, 3, 120, 30)
	require.NoError(t, err)

	got := AnglesOf(pattern.FromAngles(want))
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("angles mismatch (-want +got):\n%s", diff)
	}
}

func TestSavePNG(t *testing.T) {
	set, err := pattern.UniformGrid(32, 8, 360, 30)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pattern.png")
	require.NoError(t, SavePNG(set, "grid", path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("\x89PNG")))

	assert.ErrorIs(t, SavePNG(nil, "empty", path), ErrEmpty)
}

func TestSaveCloudPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.png")
	pts := []r3.Vec{{X: 1, Z: 4}, {}, {X: -2, Z: 3}}
	require.NoError(t, SaveCloudPNG(pts, "cycle 1", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.ErrorIs(t, SaveCloudPNG([]r3.Vec{{}}, "misses", path), ErrEmpty)
}

func TestRenderHTML(t *testing.T) {
	ds, err := pattern.EmbeddedDatasheet("velodyne_vlp16")
	require.NoError(t, err)
	set, err := pattern.CustomVerticalAngles(ds.VerticalAngles(), 90, 360)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(set, "VLP-16", &buf))
	html := buf.String()
	assert.Contains(t, html, "VLP-16")
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "rays=1440")

	assert.ErrorIs(t, RenderHTML(nil, "empty", &buf), ErrEmpty)
}
