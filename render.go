package invar

import (
	"errors"
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/image/font/basicfont"
)

// StyleRenderer draws a Style into raster images. It is the render
// capability handed to each worker.
type StyleRenderer struct {
	style   *Style
	quality int
}

var _ RenderContext = (*StyleRenderer)(nil)

func NewStyleRenderer(style *Style, quality int) *StyleRenderer {
	return &StyleRenderer{
		style:   style,
		quality: quality,
	}
}

// OpenStyle returns an OpenFunc that loads the style document at path for
// every worker that calls it.
func OpenStyle(path string, quality int) OpenFunc {
	return func() (RenderContext, error) {
		style, err := LoadStyle(path)
		if err != nil {
			return nil, err
		}
		return NewStyleRenderer(style, quality), nil
	}
}

func (r *StyleRenderer) MapProjection() orb.Projection {
	return r.style.Projection
}

func (r *StyleRenderer) Close() error {
	return nil
}

// Render draws the request, saves the image and, when enabled, its grid.
func (r *StyleRenderer) Render(req *RenderRequest) error {
	img, err := r.Draw(req)
	if err != nil {
		return err
	}

	if err := SaveImage(req.Filename, img, req.Format, r.quality); err != nil {
		return err
	}

	if req.Grid == nil {
		return nil
	}

	vp, err := newViewport(req.Bound, req.Width, req.Height)
	if err != nil {
		return err
	}
	grid := NewUTFGrid(req.Width, req.Height, req.Grid.resolution(), r.gridLookup(vp, req.Grid))
	return WriteGrid(GridFilename(req.Filename), grid)
}

// viewport maps between map units and image pixels.
type viewport struct {
	bound orb.Bound
	sx    float64
	sy    float64
}

func newViewport(b orb.Bound, width, height int) (viewport, error) {
	if width <= 0 || height <= 0 {
		return viewport{}, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if b.Right() <= b.Left() || b.Top() <= b.Bottom() {
		return viewport{}, errors.New("empty bounding box")
	}
	return viewport{
		bound: b,
		sx:    (b.Right() - b.Left()) / float64(width),
		sy:    (b.Top() - b.Bottom()) / float64(height),
	}, nil
}

func (v viewport) toPixel(p orb.Point) (float64, float64) {
	return (p[0] - v.bound.Left()) / v.sx, (v.bound.Top() - p[1]) / v.sy
}

func (v viewport) toMap(x, y float64) orb.Point {
	return orb.Point{v.bound.Left() + x*v.sx, v.bound.Top() - y*v.sy}
}

// query returns the bound grown by buffer pixels on every side.
func (v viewport) query(buffer int) orb.Bound {
	dx := float64(buffer) * v.sx
	dy := float64(buffer) * v.sy
	return orb.Bound{
		Min: orb.Point{v.bound.Min[0] - dx, v.bound.Min[1] - dy},
		Max: orb.Point{v.bound.Max[0] + dx, v.bound.Max[1] + dy},
	}
}

// Draw rasterises every layer feature within the buffered bounding box.
func (r *StyleRenderer) Draw(req *RenderRequest) (image.Image, error) {
	vp, err := newViewport(req.Bound, req.Width, req.Height)
	if err != nil {
		return nil, err
	}
	query := vp.query(req.BufferSize)

	dc := gg.NewContext(req.Width, req.Height)
	dc.SetColor(r.style.Background)
	dc.Clear()
	dc.SetFillRule(gg.FillRuleEvenOdd)
	dc.SetFontFace(basicfont.Face7x13)

	for _, layer := range r.style.Layers {
		for _, f := range layer.Features {
			if !f.Bound.Intersects(query) {
				continue
			}
			drawGeometry(dc, vp, layer, f.Geometry)
		}

		if layer.Label == "" {
			continue
		}
		for _, f := range layer.Features {
			if !f.Bound.Intersects(query) {
				continue
			}
			text, ok := f.Properties[layer.Label]
			if !ok {
				continue
			}
			x, y := vp.toPixel(f.Bound.Center())
			dc.SetColor(layer.Stroke)
			dc.DrawStringAnchored(fmt.Sprint(text), x, y, 0.5, 0.5)
		}
	}

	return dc.Image(), nil
}

func tracePath(dc *gg.Context, vp viewport, points []orb.Point, closed bool) {
	if len(points) == 0 {
		return
	}
	dc.NewSubPath()
	for i, p := range points {
		x, y := vp.toPixel(p)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	if closed {
		dc.ClosePath()
	}
}

func fillAndStroke(dc *gg.Context, layer *Layer) {
	dc.SetColor(layer.Fill)
	dc.FillPreserve()
	dc.SetColor(layer.Stroke)
	dc.SetLineWidth(layer.StrokeWidth)
	dc.Stroke()
}

func drawGeometry(dc *gg.Context, vp viewport, layer *Layer, geom orb.Geometry) {
	switch g := geom.(type) {
	case orb.Point:
		x, y := vp.toPixel(g)
		dc.DrawCircle(x, y, layer.PointRadius)
		fillAndStroke(dc, layer)
	case orb.MultiPoint:
		for _, p := range g {
			drawGeometry(dc, vp, layer, p)
		}
	case orb.LineString:
		tracePath(dc, vp, g, false)
		dc.SetColor(layer.Stroke)
		dc.SetLineWidth(layer.StrokeWidth)
		dc.Stroke()
	case orb.MultiLineString:
		for _, ls := range g {
			drawGeometry(dc, vp, layer, ls)
		}
	case orb.Ring:
		tracePath(dc, vp, g, true)
		fillAndStroke(dc, layer)
	case orb.Polygon:
		for _, ring := range g {
			tracePath(dc, vp, ring, true)
		}
		fillAndStroke(dc, layer)
	case orb.MultiPolygon:
		for _, poly := range g {
			drawGeometry(dc, vp, layer, poly)
		}
	case orb.Bound:
		drawGeometry(dc, vp, layer, g.ToPolygon())
	case orb.Collection:
		for _, c := range g {
			drawGeometry(dc, vp, layer, c)
		}
	}
}

func containsPoint(geom orb.Geometry, p orb.Point) bool {
	switch g := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Ring:
		return planar.RingContains(g, p)
	case orb.Bound:
		return g.Contains(p)
	case orb.Collection:
		for _, c := range g {
			if containsPoint(c, p) {
				return true
			}
		}
	}
	return false
}

// gridLookup finds the topmost polygon of the first layer under a pixel.
func (r *StyleRenderer) gridLookup(vp viewport, opts *GridOpts) GridLookup {
	return func(x, y float64) (GridHit, bool) {
		if len(r.style.Layers) == 0 {
			return GridHit{}, false
		}
		p := vp.toMap(x, y)

		features := r.style.Layers[0].Features
		for i := len(features) - 1; i >= 0; i-- {
			f := features[i]
			if !f.Bound.Contains(p) || !containsPoint(f.Geometry, p) {
				continue
			}

			key := f.ID
			if opts.Key != "" {
				v, ok := f.Properties[opts.Key]
				if !ok {
					return GridHit{}, false
				}
				key = fmt.Sprint(v)
			}

			var data map[string]interface{}
			for _, field := range opts.Fields {
				if v, ok := f.Properties[field]; ok {
					if data == nil {
						data = make(map[string]interface{})
					}
					data[field] = v
				}
			}
			return GridHit{Key: key, Data: data}, true
		}
		return GridHit{}, false
	}
}
