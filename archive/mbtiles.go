package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/b1naryth1ef/invar"
	_ "github.com/mattn/go-sqlite3"
)

// Metadata is written to the metadata table of an archive.
type Metadata struct {
	Name        string
	Description string
	Format      string
	// TileSize is the tile width in pixels. Zero means 256.
	TileSize int
	MinZoom  int
	MaxZoom  int
	// Bounds is minLon, minLat, maxLon, maxLat.
	Bounds [4]float64
}

// MBTiles is an SQLite tile archive. Rows are stored in TMS order. Zoom
// levels keep their pixel plane meaning for every tile size, so larger tiles
// have fewer rows per level.
type MBTiles struct {
	db       *sql.DB
	tileSize int
}

// Create replaces any archive at path with an empty one.
func Create(path string) (*MBTiles, error) {
	os.Remove(path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE tiles (
			zoom_level INTEGER,
			tile_column INTEGER,
			tile_row INTEGER,
			tile_data BLOB,
			PRIMARY KEY (zoom_level, tile_column, tile_row)
		);
		CREATE TABLE metadata (
			name TEXT,
			value TEXT,
			PRIMARY KEY (name)
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &MBTiles{db: db, tileSize: invar.BaseTileSize}, nil
}

// Open opens an existing archive.
func Open(path string) (*MBTiles, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	m := &MBTiles{db: db, tileSize: invar.BaseTileSize}
	if v, err := m.Metadata("tilesize"); err == nil {
		if n, err := strconv.Atoi(v); err == nil && invar.ValidTileSize(n) {
			m.tileSize = n
		}
	}
	return m, nil
}

func (m *MBTiles) Close() error {
	return m.db.Close()
}

// tmsRow flips an XYZ row in a grid of n rows.
func tmsRow(n, y int) int {
	return n - 1 - y
}

func (m *MBTiles) row(z, y int) int {
	return tmsRow(invar.TileGridSize(z, m.tileSize), y)
}

func (m *MBTiles) SetMetadata(meta Metadata) error {
	if meta.TileSize == 0 {
		meta.TileSize = invar.BaseTileSize
	}
	m.tileSize = meta.TileSize

	centerLon := (meta.Bounds[0] + meta.Bounds[2]) / 2
	centerLat := (meta.Bounds[1] + meta.Bounds[3]) / 2

	values := map[string]string{
		"name":        meta.Name,
		"description": meta.Description,
		"format":      meta.Format,
		"type":        "baselayer",
		"version":     "1.1",
		"minzoom":     strconv.Itoa(meta.MinZoom),
		"maxzoom":     strconv.Itoa(meta.MaxZoom),
		"tilesize":    strconv.Itoa(meta.TileSize),
		"bounds": fmt.Sprintf("%f,%f,%f,%f",
			meta.Bounds[0], meta.Bounds[1], meta.Bounds[2], meta.Bounds[3]),
		"center": fmt.Sprintf("%f,%f,%d", centerLon, centerLat, (meta.MinZoom+meta.MaxZoom)/2),
	}

	for name, value := range values {
		_, err := m.db.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", name, value)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MBTiles) Metadata(name string) (string, error) {
	var value string
	err := m.db.QueryRow("SELECT value FROM metadata WHERE name = ?", name).Scan(&value)
	return value, err
}

// PutTile stores a tile addressed in XYZ order.
func (m *MBTiles) PutTile(z, x, y int, data []byte) error {
	_, err := m.db.Exec(
		"INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)",
		z, x, m.row(z, y), data)
	return err
}

// Tile returns the tile addressed in XYZ order, or nil when absent.
func (m *MBTiles) Tile(z, x, y int) ([]byte, error) {
	var data []byte
	err := m.db.QueryRow(
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		z, x, m.row(z, y)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

func (m *MBTiles) Count() (int, error) {
	var n int
	err := m.db.QueryRow("SELECT COUNT(*) FROM tiles").Scan(&n)
	return n, err
}

// parseTilePath extracts z/x/y from a path of the form z/x/y.ext.
func parseTilePath(rel, ext string) (int, int, int, bool) {
	if !strings.HasSuffix(rel, "."+ext) {
		return 0, 0, 0, false
	}
	parts := strings.Split(filepath.ToSlash(strings.TrimSuffix(rel, "."+ext)), "/")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}

	var zxy [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, false
		}
		zxy[i] = n
	}
	return zxy[0], zxy[1], zxy[2], true
}

// PackDir copies every z/x/y.ext file under dir into a new archive at dst
// and returns the number of tiles written.
func PackDir(dir, ext, dst string, meta Metadata) (int, error) {
	m, err := Create(dst)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.SetMetadata(meta); err != nil {
		return 0, err
	}

	tx, err := m.db.Begin()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare("INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	count := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		z, x, y, ok := parseTilePath(rel, ext)
		if !ok {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(z, x, m.row(z, y), data); err != nil {
			return fmt.Errorf("insert %s: %w", rel, err)
		}
		count++
		return nil
	})
	if err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}
