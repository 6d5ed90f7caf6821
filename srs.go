package invar

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// DefaultSRS is the map reference system used when a style does not set one.
const DefaultSRS = "EPSG:3857"

var (
	mercatorCodes   = map[string]bool{"epsg:3857": true, "epsg:900913": true, "epsg:3785": true, "epsg:102100": true}
	geographicCodes = map[string]bool{"epsg:4326": true}
)

func identityProjection(p orb.Point) orb.Point { return p }

// ParseSRS returns the projection from lon/lat degrees into the map units of
// the named reference system. It accepts EPSG codes, optionally written as
// "+init=epsg:NNNN", and spherical mercator or longlat proj4 strings.
func ParseSRS(srs string) (orb.Projection, error) {
	s := strings.ToLower(strings.TrimSpace(srs))
	if s == "" {
		s = strings.ToLower(DefaultSRS)
	}

	fields := strings.Fields(s)
	code := strings.TrimPrefix(fields[0], "+init=")
	if !strings.HasPrefix(code, "+") {
		switch {
		case mercatorCodes[code]:
			return project.WGS84.ToMercator, nil
		case geographicCodes[code]:
			return identityProjection, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownSRS, srs)
	}

	params := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		params[k] = v
	}

	switch params["+proj"] {
	case "merc":
		if params["+a"] == "6378137" && params["+b"] == "6378137" {
			return project.WGS84.ToMercator, nil
		}
	case "longlat", "latlong":
		return identityProjection, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSRS, srs)
}
