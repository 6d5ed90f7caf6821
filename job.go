package invar

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// JobKind tags which addressing scheme a Job uses.
type JobKind string

const (
	// KindTile addresses a grid cell by column, row and zoom.
	KindTile JobKind = "tile"
	// KindFrame addresses an image centered on a latitude and longitude.
	KindFrame JobKind = "frame"
)

// Job is a single unit of render work. Only the fields matching Kind are
// meaningful. Jobs are not modified after they are enqueued.
type Job struct {
	ID       string  `json:"id"`
	Kind     JobKind `json:"kind"`
	Filename string  `json:"filename"`
	Zoom     int     `json:"zoom"`

	Column int `json:"column,omitempty"`
	Row    int `json:"row,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// TileJob builds a job for the tile at column x, row y.
func TileJob(filename string, x, y, zoom int) *Job {
	return &Job{
		Kind:     KindTile,
		Filename: filename,
		Column:   x,
		Row:      y,
		Zoom:     zoom,
	}
}

// FrameJob builds a job for an image centered on lat/lon.
func FrameJob(filename string, lat, lon float64, zoom int) *Job {
	return &Job{
		Kind:      KindFrame,
		Filename:  filename,
		Latitude:  lat,
		Longitude: lon,
		Zoom:      zoom,
	}
}

func (j *Job) String() string {
	switch j.Kind {
	case KindTile:
		return fmt.Sprintf("tile %d/%d/%d", j.Zoom, j.Column, j.Row)
	case KindFrame:
		return fmt.Sprintf("frame %.6f,%.6f@%d", j.Latitude, j.Longitude, j.Zoom)
	}
	return fmt.Sprintf("job %s", j.Kind)
}

func (j *Job) ensureID() {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
}

type cornerFunc func(j *Job, p *GoogleProjection, width, height int) (orb.Point, orb.Point)

var resolvers = map[JobKind]cornerFunc{
	KindTile:  tileCorners,
	KindFrame: frameCorners,
}

// tileCorners returns the bottom-left and top-right pixels of the tile. Rows
// grow downward while latitude grows upward, so the bottom-left pixel has the
// larger y.
func tileCorners(j *Job, _ *GoogleProjection, width, height int) (orb.Point, orb.Point) {
	px0 := orb.Point{float64(j.Column * width), float64((j.Row + 1) * height)}
	px1 := orb.Point{float64((j.Column + 1) * width), float64(j.Row * height)}
	return px0, px1
}

func frameCorners(j *Job, p *GoogleProjection, width, height int) (orb.Point, orb.Point) {
	c := p.ToPixel(orb.Point{j.Longitude, j.Latitude}, j.Zoom)

	halfWidth := float64(width / 2)
	halfHeight := float64(height / 2)

	px0 := orb.Point{c[0] - halfWidth, c[1] + halfHeight}
	px1 := orb.Point{c[0] + halfWidth, c[1] - halfHeight}
	return px0, px1
}

// PixelCorners returns the bottom-left and top-right corners of the job in
// the global pixel plane of its zoom level.
func (j *Job) PixelCorners(p *GoogleProjection, width, height int) (orb.Point, orb.Point, error) {
	resolve, ok := resolvers[j.Kind]
	if !ok {
		return orb.Point{}, orb.Point{}, fmt.Errorf("%w: %q", ErrUnknownJobKind, j.Kind)
	}

	px0, px1 := resolve(j, p, width, height)
	return px0, px1, nil
}

// Bound resolves the job to a bounding box in the map units of mapProj.
func (j *Job) Bound(p *GoogleProjection, mapProj orb.Projection, width, height int) (orb.Bound, error) {
	px0, px1, err := j.PixelCorners(p, width, height)
	if err != nil {
		return orb.Bound{}, err
	}

	c0 := mapProj(p.ToGeo(px0, j.Zoom))
	c1 := mapProj(p.ToGeo(px1, j.Zoom))

	return orb.MultiPoint{c0, c1}.Bound(), nil
}
