package invar

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

type Config struct {
	Concurrency int                    `hcl:"concurrency,optional"`
	Style       string                 `hcl:"style"`
	Quality     int                    `hcl:"quality,optional"`
	Queue       *QueueConfigBlock      `hcl:"queue,block"`
	Outputs     []*OutputConfigBlock   `hcl:"output,block"`
	Tilesets    []*TilesetConfigBlock  `hcl:"tileset,block"`
	Framesets   []*FramesetConfigBlock `hcl:"frameset,block"`

	// Dir is the directory of the config file; relative paths resolve from it.
	Dir string
}

type QueueConfigBlock struct {
	Backend  string `hcl:"backend,optional"`
	Addr     string `hcl:"addr,optional"`
	Password string `hcl:"password,optional"`
	DB       int    `hcl:"db,optional"`
}

type OutputConfigBlock struct {
	Name          string `hcl:"name,label"`
	Path          string `hcl:"path"`
	IncludeStatic bool   `hcl:"include_static,optional"`
	Archive       bool   `hcl:"archive,optional"`
}

type GridConfigBlock struct {
	Key        string   `hcl:"key,optional"`
	Fields     []string `hcl:"fields,optional"`
	Resolution int      `hcl:"resolution,optional"`
}

type TilesetConfigBlock struct {
	Name         string           `hcl:"name,label"`
	Output       string           `hcl:"output"`
	MinZoom      int              `hcl:"min_zoom,optional"`
	MaxZoom      int              `hcl:"max_zoom"`
	Bounds       []float64        `hcl:"bounds,optional"`
	Format       string           `hcl:"format,optional"`
	TileSize     int              `hcl:"tile_size,optional"`
	BufferSize   int              `hcl:"buffer_size,optional"`
	SkipExisting bool             `hcl:"skip_existing,optional"`
	Grid         *GridConfigBlock `hcl:"grid,block"`
}

type FrameConfigBlock struct {
	Name      string  `hcl:"name,label"`
	Latitude  float64 `hcl:"latitude"`
	Longitude float64 `hcl:"longitude"`
	Zoom      int     `hcl:"zoom"`
}

type FramesetConfigBlock struct {
	Name         string              `hcl:"name,label"`
	Output       string              `hcl:"output"`
	Width        int                 `hcl:"width,optional"`
	Height       int                 `hcl:"height,optional"`
	Format       string              `hcl:"format,optional"`
	BufferSize   int                 `hcl:"buffer_size,optional"`
	SkipExisting bool                `hcl:"skip_existing,optional"`
	Frames       []*FrameConfigBlock `hcl:"frame,block"`
}

// WorkerOpts returns the render parameters for the tileset.
func (t *TilesetConfigBlock) WorkerOpts() WorkerOpts {
	size := t.TileSize
	if size == 0 {
		size = BaseTileSize
	}

	opts := WorkerOpts{
		Width:        size,
		Height:       size,
		Format:       t.Format,
		BufferSize:   t.BufferSize,
		SkipExisting: t.SkipExisting,
	}
	if t.Grid != nil {
		opts.Grid = &GridOpts{
			Key:        t.Grid.Key,
			Fields:     t.Grid.Fields,
			Resolution: t.Grid.Resolution,
		}
	}
	return opts.withDefaults()
}

// WorkerOpts returns the render parameters for the frameset.
func (f *FramesetConfigBlock) WorkerOpts() WorkerOpts {
	return WorkerOpts{
		Width:        f.Width,
		Height:       f.Height,
		Format:       f.Format,
		BufferSize:   f.BufferSize,
		SkipExisting: f.SkipExisting,
	}.withDefaults()
}

// WorldBounds is used for tilesets that do not declare bounds.
var WorldBounds = []float64{-180, -85.0511, 180, 85.0511}

// BoundsOrWorld returns the tileset bounds as minLon, minLat, maxLon, maxLat.
func (t *TilesetConfigBlock) BoundsOrWorld() []float64 {
	if len(t.Bounds) == 0 {
		return WorldBounds
	}
	return t.Bounds
}

var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

func newHCLEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: map[string]function.Function{
			"env":    envFunc,
			"upper":  stdlib.UpperFunc,
			"lower":  stdlib.LowerFunc,
			"format": stdlib.FormatFunc,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	var cfg Config
	evalCtx := newHCLEvalContext()
	err := hclsimple.DecodeFile(path, evalCtx, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.Dir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Resolve returns path relative to the config file directory unless it is
// already absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// StylePath returns the resolved style document path.
func (c *Config) StylePath() string {
	return c.Resolve(c.Style)
}

func (c *Config) Output(name string) (*OutputConfigBlock, bool) {
	for _, o := range c.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

func (c *Config) Tileset(name string) (*TilesetConfigBlock, bool) {
	for _, t := range c.Tilesets {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func (c *Config) Frameset(name string) (*FramesetConfigBlock, bool) {
	for _, f := range c.Framesets {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// QueueBackend returns "memory" or "redis".
func (c *Config) QueueBackend() string {
	if c.Queue == nil || c.Queue.Backend == "" {
		return "memory"
	}
	return c.Queue.Backend
}

func (c *Config) Validate() error {
	switch c.QueueBackend() {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported queue backend %q", c.QueueBackend())
	}

	for _, t := range c.Tilesets {
		if _, ok := c.Output(t.Output); !ok {
			return fmt.Errorf("tileset %q: unknown output %q", t.Name, t.Output)
		}
		if t.MinZoom < 0 || t.MaxZoom < t.MinZoom {
			return fmt.Errorf("tileset %q: invalid zoom range %d-%d", t.Name, t.MinZoom, t.MaxZoom)
		}
		if t.TileSize != 0 && !ValidTileSize(t.TileSize) {
			return fmt.Errorf("tileset %q: tile_size %d is not a power of two between 64 and 4096", t.Name, t.TileSize)
		}
		if len(t.Bounds) != 0 && len(t.Bounds) != 4 {
			return fmt.Errorf("tileset %q: bounds must be minLon,minLat,maxLon,maxLat", t.Name)
		}
		if _, err := NormalizeFormat(t.Format); err != nil {
			return fmt.Errorf("tileset %q: %w", t.Name, err)
		}
	}

	for _, f := range c.Framesets {
		if _, ok := c.Output(f.Output); !ok {
			return fmt.Errorf("frameset %q: unknown output %q", f.Name, f.Output)
		}
		if _, err := NormalizeFormat(f.Format); err != nil {
			return fmt.Errorf("frameset %q: %w", f.Name, err)
		}
	}

	return nil
}
