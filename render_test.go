package invar

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

const squareGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"name": "square", "pop": 12},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-90, -45], [90, -45], [90, 45], [-90, 45], [-90, -45]]]
      }
    },
    {
      "type": "Feature",
      "properties": {"name": "far"},
      "geometry": {"type": "Point", "coordinates": [170, 80]}
    }
  ]
}`

const squareStyle = `
background = "#f2efe9"

layer "land" {
  source = "land.geojson"
  fill   = "#ff0000"
  stroke = "#000000"
}
`

func writeTestStyle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "land.geojson"), []byte(squareGeoJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "style.hcl")
	if err := os.WriteFile(path, []byte(squareStyle), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertColor(t *testing.T, img image.Image, x, y int, want color.Color) {
	t.Helper()
	gr, gg, gb, ga := img.At(x, y).RGBA()
	wr, wg, wb, wa := want.RGBA()
	near := func(a, b uint32) bool {
		d := int(a>>8) - int(b>>8)
		return d >= -1 && d <= 1
	}
	if !near(gr, wr) || !near(gg, wg) || !near(gb, wb) || !near(ga, wa) {
		t.Errorf("pixel (%d,%d) = %v, want %v", x, y, img.At(x, y), want)
	}
}

func TestLoadStyle(t *testing.T) {
	style, err := LoadStyle(writeTestStyle(t))
	if err != nil {
		t.Fatal(err)
	}

	if style.SRS != DefaultSRS {
		t.Errorf("SRS = %q, want %q", style.SRS, DefaultSRS)
	}
	if len(style.Layers) != 1 {
		t.Fatalf("got %d layers, want 1", len(style.Layers))
	}

	features := style.Layers[0].Features
	if len(features) != 2 {
		t.Fatalf("got %d features, want 2", len(features))
	}
	if features[0].ID != "1" || features[1].ID != "2" {
		t.Errorf("feature ids = %q, %q want 1, 2", features[0].ID, features[1].ID)
	}

	// Features are projected into mercator metres.
	if b := features[0].Bound; b.Max[0] < 10_000_000 || b.Min[0] > -10_000_000 {
		t.Errorf("square bound = %v, want mercator units", b)
	}
}

func TestLoadStyleErrors(t *testing.T) {
	tests := []struct {
		name  string
		style string
		want  string
	}{
		{"bad srs", `srs = "EPSG:27700"`, "unknown spatial reference system"},
		{"bad background", `background = "chartreuse"`, "background"},
		{"missing source", "layer \"x\" {\n  source = \"nope.geojson\"\n}", "layer \"x\""},
		{"bad fill", "layer \"x\" {\n  source = \"nope.geojson\"\n  fill = \"#zzzzzz\"\n}", "fill"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "style.hcl")
			if err := os.WriteFile(path, []byte(tt.style), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadStyle(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadStyle() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDefaultLayerColors(t *testing.T) {
	cfg := []*LayerConfigBlock{{Name: "a"}, {Name: "b"}}
	base, _ := parseColor(defaultLayerColor)

	a1, _ := newLayer(cfg[0], 0, 2, base)
	a2, _ := newLayer(cfg[0], 0, 2, base)
	b, _ := newLayer(cfg[1], 1, 2, base)

	if a1.Fill != a2.Fill {
		t.Error("default fill should be the same every time a style is loaded")
	}
	if a1.Fill == b.Fill {
		t.Error("layers should get different default fills")
	}
	if a1.StrokeWidth != defaultStrokeWidth || a1.PointRadius != defaultPointRadius {
		t.Errorf("defaults = %v, %v", a1.StrokeWidth, a1.PointRadius)
	}
}

func TestRenderTile(t *testing.T) {
	stylePath := writeTestStyle(t)
	rc, err := OpenStyle(stylePath, 0)()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	p := NewGoogleProjection(DefaultMaxZoom)
	bound, err := TileJob("0.png", 0, 0, 0).Bound(p, rc.MapProjection(), 256, 256)
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "tiles", "0", "0", "0.png")
	req := &RenderRequest{
		Filename:   out,
		Width:      256,
		Height:     256,
		Bound:      bound,
		BufferSize: 256,
		Format:     "png",
		Grid:       &GridOpts{Key: "name", Fields: []string{"pop"}},
	}
	if err := rc.Render(req); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatal(err)
	}

	assertColor(t, img, 128, 128, color.RGBA{255, 0, 0, 255})
	assertColor(t, img, 2, 2, color.RGBA{0xf2, 0xef, 0xe9, 255})

	raw, err := os.ReadFile(GridFilename(out))
	if err != nil {
		t.Fatalf("grid sidecar missing: %v", err)
	}
	grid := string(raw)
	if !strings.HasPrefix(grid, "grid(") {
		t.Errorf("grid = %s", grid)
	}
	if !strings.Contains(grid, `"square"`) || !strings.Contains(grid, `"pop":12`) {
		t.Errorf("grid should key the square by name with its pop: %s", grid)
	}
}

func TestDrawRejectsEmptyBound(t *testing.T) {
	style, err := LoadStyle(writeTestStyle(t))
	if err != nil {
		t.Fatal(err)
	}
	r := NewStyleRenderer(style, 0)
	if _, err := r.Draw(&RenderRequest{Width: 256, Height: 256}); err == nil {
		t.Error("Draw() with empty bound should fail")
	}
}

func TestViewport(t *testing.T) {
	vp, err := newViewport(boundOf(0, 0, 100, 50), 200, 100)
	if err != nil {
		t.Fatal(err)
	}

	x, y := vp.toPixel(pointOf(0, 50))
	if x != 0 || y != 0 {
		t.Errorf("top-left = (%v, %v), want (0, 0)", x, y)
	}
	x, y = vp.toPixel(pointOf(100, 0))
	if x != 200 || y != 100 {
		t.Errorf("bottom-right = (%v, %v), want (200, 100)", x, y)
	}
	if p := vp.toMap(100, 50); p != pointOf(50, 25) {
		t.Errorf("toMap(100, 50) = %v", p)
	}

	q := vp.query(10)
	if q != boundOf(-5, -5, 105, 55) {
		t.Errorf("query(10) = %v", q)
	}
}

func pointOf(x, y float64) orb.Point { return orb.Point{x, y} }

func boundOf(x0, y0, x1, y1 float64) orb.Bound {
	return orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}
}
