// Package patternplot renders ray patterns and sampled clouds for visual
// inspection: static PNGs via gonum/plot and interactive HTML via go-echarts.
package patternplot

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/banshee-data/simlidar/internal/simlidar/pattern"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ErrEmpty is returned when there is nothing to plot.
var ErrEmpty = errors.New("nothing to plot")

// echartsAssetsHost serves the echarts bundle for rendered pages.
const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AnglesOf recovers the horizontal and vertical angles, in degrees, of each
// direction. It inverts pattern.Direction.
func AnglesOf(set pattern.Set) []pattern.Angles {
	out := make([]pattern.Angles, len(set))
	for i, d := range set {
		d = r3.Unit(d)
		out[i] = pattern.Angles{
			H: math.Atan2(d.X, d.Z) * 180 / math.Pi,
			V: math.Asin(math.Max(-1, math.Min(1, d.Y))) * 180 / math.Pi,
		}
	}
	return out
}

// SavePNG writes an azimuth/elevation scatter of set to path.
func SavePNG(set pattern.Set, title, path string) error {
	if set.Len() == 0 {
		return ErrEmpty
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%d rays)", title, set.Len())
	p.X.Label.Text = "Horizontal (deg)"
	p.Y.Label.Text = "Vertical (deg)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, set.Len())
	for i, a := range AnglesOf(set) {
		pts[i] = plotter.XY{X: a.H, Y: a.V}
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("failed to build scatter: %w", err)
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(1.5)
	sc.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(sc)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// SaveCloudPNG writes a top-down (X/Z) view of a local-frame point cloud to
// path. Points at the origin are no-returns and are skipped.
func SaveCloudPNG(points []r3.Vec, title, path string) error {
	pts := make(plotter.XYs, 0, len(points))
	for _, v := range points {
		if v == (r3.Vec{}) {
			continue
		}
		pts = append(pts, plotter.XY{X: v.X, Y: v.Z})
	}
	if len(pts) == 0 {
		return ErrEmpty
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%d returns)", title, len(pts))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("failed to build scatter: %w", err)
	}
	sc.GlyphStyle.Radius = vg.Points(1)
	p.Add(sc)

	origin, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return err
	}
	origin.GlyphStyle.Shape = draw.CrossGlyph{}
	origin.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	origin.GlyphStyle.Radius = vg.Points(4)
	p.Add(origin)
	p.Legend.Add("sensor", origin)
	p.Legend.Top = true
	p.Legend.Left = false

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// RenderHTML writes an interactive azimuth/elevation scatter of set to w,
// coloured by ray index.
func RenderHTML(set pattern.Set, title string, w io.Writer) error {
	if set.Len() == 0 {
		return ErrEmpty
	}

	angles := AnglesOf(set)
	data := make([]opts.ScatterData, len(angles))
	for i, a := range angles {
		data[i] = opts.ScatterData{Value: []interface{}{a.H, a.V, i}}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("rays=%d fingerprint=%016x", set.Len(), set.Fingerprint())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -180, Max: 180, Name: "Horizontal (deg)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -90, Max: 90, Name: "Vertical (deg)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(set.Len() - 1),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("rays", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
