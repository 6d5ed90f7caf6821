package build

import (
	"math"
	"path/filepath"
	"strconv"

	"github.com/b1naryth1ef/invar"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileRange is the inclusive range of tile columns and rows covering an area
// at one zoom level.
type TileRange struct {
	Zoom       int
	MinX, MaxX int
	MinY, MaxY int
}

func (r TileRange) Count() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

func clampTile(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// CoveringRange returns the tiles of tileSize pixels covering bounds (minLon,
// minLat, maxLon, maxLat) at zoom. Bounds are clipped to the mercator world
// first.
func CoveringRange(bounds []float64, zoom, tileSize int) TileRange {
	w := invar.WorldBounds
	minLon := math.Max(bounds[0], w[0])
	minLat := math.Max(bounds[1], w[1])
	maxLon := math.Min(bounds[2], w[2])
	maxLat := math.Min(bounds[3], w[3])

	z := maptile.Zoom(max(invar.TileGridZoom(zoom, tileSize), 0))
	nw := maptile.At(orb.Point{minLon, maxLat}, z)
	se := maptile.At(orb.Point{maxLon, minLat}, z)

	n := invar.TileGridSize(zoom, tileSize)
	r := TileRange{
		Zoom: zoom,
		MinX: clampTile(int(nw.X), n),
		MaxX: clampTile(int(se.X), n),
		MinY: clampTile(int(nw.Y), n),
		MaxY: clampTile(int(se.Y), n),
	}
	if r.MinX > r.MaxX {
		r.MinX, r.MaxX = r.MaxX, r.MinX
	}
	if r.MinY > r.MaxY {
		r.MinY, r.MaxY = r.MaxY, r.MinY
	}
	return r
}

// TilePath returns dir/z/x/y.ext.
func TilePath(dir string, z, x, y int, ext string) string {
	return filepath.Join(dir, strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+"."+ext)
}

// TileJobs enumerates the jobs of one zoom level of a tileset.
func TileJobs(r TileRange, dir, ext string) []*invar.Job {
	jobs := make([]*invar.Job, 0, r.Count())
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			jobs = append(jobs, invar.TileJob(TilePath(dir, r.Zoom, x, y, ext), x, y, r.Zoom))
		}
	}
	return jobs
}

// FrameJobs builds one job per frame block.
func FrameJobs(fs *invar.FramesetConfigBlock, dir, ext string) []*invar.Job {
	jobs := make([]*invar.Job, 0, len(fs.Frames))
	for _, f := range fs.Frames {
		filename := filepath.Join(dir, f.Name+"."+ext)
		jobs = append(jobs, invar.FrameJob(filename, f.Latitude, f.Longitude, f.Zoom))
	}
	return jobs
}

func tileQueueName(set string, zoom int) string {
	return set + ":z" + strconv.Itoa(zoom)
}

func frameQueueName(set string) string {
	return set + ":frames"
}
