package invar

import (
	"encoding/hex"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/b1naryth1ef/invar/dl"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/muesli/gamut"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

const (
	defaultBackground  = "#f2efe9"
	defaultLayerColor  = "#a6cee3"
	defaultStrokeWidth = 1.0
	defaultPointRadius = 3.0
)

// StyleConfig is the on-disk style document.
type StyleConfig struct {
	SRS        string              `hcl:"srs,optional"`
	Background string              `hcl:"background,optional"`
	CacheDir   string              `hcl:"cache_dir,optional"`
	Layers     []*LayerConfigBlock `hcl:"layer,block"`
}

type LayerConfigBlock struct {
	Name        string  `hcl:"name,label"`
	Source      string  `hcl:"source"`
	Fill        string  `hcl:"fill,optional"`
	Stroke      string  `hcl:"stroke,optional"`
	StrokeWidth float64 `hcl:"stroke_width,optional"`
	PointRadius float64 `hcl:"point_radius,optional"`
	Opacity     float64 `hcl:"opacity,optional"`
	Label       string  `hcl:"label,optional"`
}

// Feature is a source feature projected into map units.
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Bound      orb.Bound
	Properties geojson.Properties
}

type Layer struct {
	Name        string
	Fill        color.Color
	Stroke      color.Color
	StrokeWidth float64
	PointRadius float64
	Label       string
	Features    []*Feature
}

// Style is a loaded style document with every source read and projected.
type Style struct {
	SRS        string
	Projection orb.Projection
	Background color.Color
	Layers     []*Layer
}

// LoadStyle reads the style document at path along with its sources.
func LoadStyle(path string) (*Style, error) {
	var cfg StyleConfig
	if err := hclsimple.DecodeFile(path, newHCLEvalContext(), &cfg); err != nil {
		return nil, err
	}
	return NewStyle(&cfg, filepath.Dir(path))
}

// NewStyle resolves cfg; relative sources are read from dir.
func NewStyle(cfg *StyleConfig, dir string) (*Style, error) {
	srs := cfg.SRS
	if srs == "" {
		srs = DefaultSRS
	}
	proj, err := ParseSRS(srs)
	if err != nil {
		return nil, err
	}

	background := cfg.Background
	if background == "" {
		background = defaultBackground
	}
	bg, err := parseColor(background)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "invar-sources")
	} else if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(dir, cacheDir)
	}

	style := &Style{
		SRS:        srs,
		Projection: proj,
		Background: bg,
	}

	base, _ := parseColor(defaultLayerColor)
	for idx, lc := range cfg.Layers {
		layer, err := newLayer(lc, idx, len(cfg.Layers), base)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", lc.Name, err)
		}

		source := lc.Source
		if dl.IsRemote(source) {
			source, err = dl.Fetch(source, cacheDir)
			if err != nil {
				return nil, fmt.Errorf("layer %q: %w", lc.Name, err)
			}
		} else if !filepath.IsAbs(source) {
			source = filepath.Join(dir, source)
		}

		layer.Features, err = loadFeatures(source, proj)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", lc.Name, err)
		}

		style.Layers = append(style.Layers, layer)
	}

	return style, nil
}

func newLayer(lc *LayerConfigBlock, idx, count int, base color.Color) (*Layer, error) {
	// Layers without a fill get evenly spread hues so every worker derives
	// the same colours.
	var fill color.Color = gamut.HueOffset(base, idx*360/max(count, 1))
	if lc.Fill != "" {
		c, err := parseColor(lc.Fill)
		if err != nil {
			return nil, fmt.Errorf("fill: %w", err)
		}
		fill = c
	}

	stroke := gamut.Darker(fill, 0.3)
	if lc.Stroke != "" {
		c, err := parseColor(lc.Stroke)
		if err != nil {
			return nil, fmt.Errorf("stroke: %w", err)
		}
		stroke = c
	}

	if lc.Opacity > 0 && lc.Opacity < 1 {
		fill = withOpacity(fill, lc.Opacity)
	}

	layer := &Layer{
		Name:        lc.Name,
		Fill:        fill,
		Stroke:      stroke,
		StrokeWidth: lc.StrokeWidth,
		PointRadius: lc.PointRadius,
		Label:       lc.Label,
	}
	if layer.StrokeWidth == 0 {
		layer.StrokeWidth = defaultStrokeWidth
	}
	if layer.PointRadius == 0 {
		layer.PointRadius = defaultPointRadius
	}
	return layer, nil
}

func loadFeatures(path string, proj orb.Projection) ([]*Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	features := make([]*Feature, 0, len(fc.Features))
	for idx, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}

		geom := project.Geometry(f.Geometry, proj)
		features = append(features, &Feature{
			ID:         featureID(f, idx),
			Geometry:   geom,
			Bound:      geom.Bound(),
			Properties: f.Properties,
		})
	}
	return features, nil
}

// featureID uses the GeoJSON id when present, otherwise the 1-based index.
func featureID(f *geojson.Feature, idx int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return strconv.Itoa(idx + 1)
}

func parseColor(s string) (color.Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return nil, fmt.Errorf("invalid colour %q", s)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return nil, fmt.Errorf("invalid colour %q", s)
	}
	return gamut.Hex("#" + h), nil
}

func withOpacity(c color.Color, opacity float64) color.Color {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{
		R: uint8(r >> 8),
		G: uint8(g >> 8),
		B: uint8(b >> 8),
		A: uint8(opacity * 255),
	}
}
