package invar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultGridResolution is the number of image pixels per grid cell.
const DefaultGridResolution = 4

// GridOpts enables the UTF-grid sidecar written next to each tile.
type GridOpts struct {
	// Key names the feature property used as the grid key. When empty the
	// feature id is used.
	Key string
	// Fields lists the feature properties copied into the grid data.
	Fields     []string
	Resolution int
}

func (o *GridOpts) resolution() int {
	if o.Resolution <= 0 {
		return DefaultGridResolution
	}
	return o.Resolution
}

// UTFGrid is the interaction grid consumed by map clients.
type UTFGrid struct {
	Grid []string                          `json:"grid"`
	Keys []string                          `json:"keys"`
	Data map[string]map[string]interface{} `json:"data"`
}

// GridHit is the result of looking up the feature under a pixel.
type GridHit struct {
	Key  string
	Data map[string]interface{}
}

// GridLookup reports the feature under the image pixel (x, y), if any.
type GridLookup func(x, y float64) (GridHit, bool)

// encodeGridID maps a key index to its grid character, skipping '"' and '\'.
func encodeGridID(id int) rune {
	code := id + 32
	if code >= 34 {
		code++
	}
	if code >= 92 {
		code++
	}
	return rune(code)
}

// NewUTFGrid samples lookup at the center of every resolution-sized cell.
func NewUTFGrid(width, height, resolution int, lookup GridLookup) *UTFGrid {
	if resolution <= 0 {
		resolution = DefaultGridResolution
	}

	grid := &UTFGrid{
		Keys: []string{""},
		Data: make(map[string]map[string]interface{}),
	}
	index := map[string]int{"": 0}

	cols := width / resolution
	rows := height / resolution
	half := float64(resolution) / 2

	for row := 0; row < rows; row++ {
		var line strings.Builder
		for col := 0; col < cols; col++ {
			x := float64(col*resolution) + half
			y := float64(row*resolution) + half

			id := 0
			if hit, ok := lookup(x, y); ok && hit.Key != "" {
				existing, seen := index[hit.Key]
				if !seen {
					existing = len(grid.Keys)
					index[hit.Key] = existing
					grid.Keys = append(grid.Keys, hit.Key)
					if len(hit.Data) > 0 {
						grid.Data[hit.Key] = hit.Data
					}
				}
				id = existing
			}
			line.WriteRune(encodeGridID(id))
		}
		grid.Grid = append(grid.Grid, line.String())
	}

	return grid
}

// GridFilename returns the sidecar path for an image filename.
func GridFilename(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ".grid.json"
}

// WriteGrid writes the grid wrapped in a grid(...) callback so it can be
// loaded with a script tag.
func WriteGrid(filename string, grid *UTFGrid) error {
	data, err := json.Marshal(grid)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("grid(")
	buf.Write(data)
	buf.WriteString(")")

	if err := os.WriteFile(filename, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write grid %s: %w", filename, err)
	}
	return nil
}
