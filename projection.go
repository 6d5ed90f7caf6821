package invar

import (
	"math"
	"math/bits"

	"github.com/paulmach/orb"
)

const (
	// BaseTileSize is the width and height in pixels of the single tile at zoom 0.
	BaseTileSize = 256

	// DefaultMaxZoom is the number of zoom levels precomputed by workers.
	DefaultMaxZoom = 18

	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi

	// sin(lat) is clamped to this range so the mercator log never sees zero.
	maxSinLat = 0.9999
)

type zoomLevel struct {
	pixelsPerDegree float64
	radiansScale    float64
	origin          orb.Point
	tileSize        float64
}

func newZoomLevel(zoom int) zoomLevel {
	c := math.Ldexp(BaseTileSize, zoom)
	e := c / 2
	return zoomLevel{
		pixelsPerDegree: c / 360,
		radiansScale:    c / (2 * math.Pi),
		origin:          orb.Point{e, e},
		tileSize:        c,
	}
}

// GoogleProjection converts between geographic coordinates and the global
// pixel plane of a spherical mercator tile pyramid. It is immutable after
// construction and safe for concurrent use.
type GoogleProjection struct {
	levels []zoomLevel
}

// NewGoogleProjection precomputes the per-zoom constants for zoom levels
// 0 through maxZoom inclusive.
func NewGoogleProjection(maxZoom int) *GoogleProjection {
	if maxZoom < 0 {
		maxZoom = 0
	}

	levels := make([]zoomLevel, maxZoom+1)
	for z := range levels {
		levels[z] = newZoomLevel(z)
	}

	return &GoogleProjection{levels: levels}
}

// MaxZoom returns the highest precomputed zoom level.
func (p *GoogleProjection) MaxZoom() int {
	return len(p.levels) - 1
}

func (p *GoogleProjection) level(zoom int) zoomLevel {
	if zoom >= 0 && zoom < len(p.levels) {
		return p.levels[zoom]
	}
	return newZoomLevel(zoom)
}

// TileSize returns the width in pixels of the whole world at the given zoom.
func (p *GoogleProjection) TileSize(zoom int) float64 {
	return p.level(zoom).tileSize
}

// ToPixel maps a lon/lat point to integer pixel coordinates at zoom.
func (p *GoogleProjection) ToPixel(ll orb.Point, zoom int) orb.Point {
	l := p.level(zoom)

	x := math.Round(l.origin[0] + ll.Lon()*l.pixelsPerDegree)

	f := clamp(math.Sin(ll.Lat()*degToRad), -maxSinLat, maxSinLat)
	y := math.Round(l.origin[1] + 0.5*math.Log((1+f)/(1-f))*-l.radiansScale)

	return orb.Point{x, y}
}

// ToGeo maps pixel coordinates at zoom back to a lon/lat point.
func (p *GoogleProjection) ToGeo(px orb.Point, zoom int) orb.Point {
	l := p.level(zoom)

	lon := (px[0] - l.origin[0]) / l.pixelsPerDegree
	g := (px[1] - l.origin[1]) / -l.radiansScale
	lat := radToDeg * (2*math.Atan(math.Exp(g)) - 0.5*math.Pi)

	return orb.Point{lon, lat}
}

// ValidTileSize reports whether size is a power of two between 64 and 4096
// pixels, the sizes for which tiles line up with the zoom pyramid.
func ValidTileSize(size int) bool {
	return size >= 64 && size <= 4096 && size&(size-1) == 0
}

// TileGridZoom returns the zoom of the 256 pixel pyramid whose grid matches
// tiles of tileSize pixels at zoom. It is negative when a single tile is
// larger than the world.
func TileGridZoom(zoom, tileSize int) int {
	return zoom - (bits.Len(uint(tileSize)) - bits.Len(uint(BaseTileSize)))
}

// TileGridSize returns the number of tileSize tiles spanning the world at
// zoom along each axis.
func TileGridSize(zoom, tileSize int) int {
	gz := TileGridZoom(zoom, tileSize)
	if gz <= 0 {
		return 1
	}
	return 1 << gz
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
