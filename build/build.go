package build

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/b1naryth1ef/invar"
	"github.com/b1naryth1ef/invar/archive"
	"github.com/b1naryth1ef/invar/web"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

type BuildOpts struct {
	// SkipExisting forces the skip policy on for every set.
	SkipExisting bool
	Logger       *log.Logger

	// Redis overrides the client built from the queue block.
	Redis redis.Cmdable
	// Open overrides the render context factory built from the style.
	Open invar.OpenFunc
}

func ensureDirectory(path string) error {
	return os.MkdirAll(path, os.ModePerm)
}

func writeDirectory(path string, fs embed.FS, dir string) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			err = os.Mkdir(filepath.Join(path, entry.Name()), os.ModePerm)
			if err != nil && !os.IsExist(err) {
				return err
			}
			err = writeDirectory(filepath.Join(path, entry.Name()), fs, filepath.Join(dir, entry.Name()))
			if err != nil {
				return err
			}
		} else {
			contents, err := fs.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return err
			}

			err = os.WriteFile(filepath.Join(path, entry.Name()), contents, 0o644)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func writeStatic(path string, data web.FrontendData) error {
	fd, err := os.Create(filepath.Join(path, "index.html"))
	if err != nil {
		return err
	}
	defer fd.Close()

	dataSerialized, err := json.Marshal(data)
	if err != nil {
		return err
	}

	tmpl := template.Must(template.New("index.html").Parse(web.GetIndexHTML()))
	err = tmpl.Execute(fd, string(dataSerialized))
	if err != nil {
		return err
	}

	err = ensureDirectory(filepath.Join(path, "static"))
	if err != nil {
		return err
	}

	return writeDirectory(filepath.Join(path, "static"), web.GetStaticContent(), ".")
}

// builder carries what every set of a build shares.
type builder struct {
	config *invar.Config
	opts   BuildOpts
	logger *log.Logger
	redis  redis.Cmdable
	open   invar.OpenFunc

	// owned is the client built from the queue block, closed by Close.
	owned *redis.Client
}

func newBuilder(config *invar.Config, opts BuildOpts) *builder {
	b := &builder{
		config: config,
		opts:   opts,
		logger: opts.Logger,
		redis:  opts.Redis,
		open:   opts.Open,
	}
	if b.logger == nil {
		b.logger = log.Default()
	}
	if b.open == nil {
		b.open = invar.OpenStyle(config.StylePath(), config.Quality)
	}
	if b.redis == nil && config.QueueBackend() == "redis" {
		b.owned = redis.NewClient(&redis.Options{
			Addr:     config.Queue.Addr,
			Password: config.Queue.Password,
			DB:       config.Queue.DB,
		})
		b.redis = b.owned
	}
	return b
}

// Close releases the Redis client the builder created. A client passed in
// through BuildOpts is left open.
func (b *builder) Close() error {
	if b.owned == nil {
		return nil
	}
	return b.owned.Close()
}

func (b *builder) newQueue(ctx context.Context, name string, reset bool) (invar.Queue, error) {
	if b.redis == nil {
		return invar.NewMemoryQueue(name), nil
	}

	q := invar.NewRedisQueue(b.redis, name)
	if reset {
		if err := q.Reset(ctx); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (b *builder) outputPath(name string) string {
	output, _ := b.config.Output(name)
	return b.config.Resolve(output.Path)
}

func (b *builder) runPool(ctx context.Context, set string, queues []invar.Queue, wo invar.WorkerOpts, metaPath string) (*invar.PoolResult, error) {
	if b.opts.SkipExisting {
		wo.SkipExisting = true
	}

	pool := invar.NewPool(queues, b.open, invar.PoolOpts{
		Concurrency: b.config.Concurrency,
		Worker:      wo,
		Logger:      b.logger.With("set", set),
	})

	result, runErr := pool.Run(ctx)
	if result == nil {
		return nil, runErr
	}

	for _, q := range queues {
		counts, err := q.Counts(ctx)
		if err != nil {
			return nil, err
		}
		b.logger.Debug("queue drained", "queue", q.Name(), "counts", counts.String())
	}

	b.logger.Infof("Finished rendering %s in %dms (%d rendered, %d skipped, %d failed, %d workers crashed)",
		set, result.Elapsed.Milliseconds(), result.Rendered, result.Skipped, result.Failed, len(result.WorkerErrors))

	data, err := json.Marshal(result.Meta(set))
	if err != nil {
		return nil, err
	}
	if err := ensureDirectory(filepath.Dir(metaPath)); err != nil {
		return nil, err
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return nil, err
	}

	return result, runErr
}

func (b *builder) tilesetQueues(ctx context.Context, ts *invar.TilesetConfigBlock, reset bool) ([]invar.Queue, error) {
	queues := make([]invar.Queue, 0, ts.MaxZoom-ts.MinZoom+1)
	for z := ts.MinZoom; z <= ts.MaxZoom; z++ {
		q, err := b.newQueue(ctx, tileQueueName(ts.Name, z), reset)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, nil
}

func (b *builder) buildTileset(ctx context.Context, ts *invar.TilesetConfigBlock) (*web.TilesetData, error) {
	outputPath := b.outputPath(ts.Output)
	tilePath := filepath.Join(outputPath, "tiles", ts.Name)
	if err := ensureDirectory(tilePath); err != nil {
		return nil, err
	}

	ext, err := invar.FormatExtension(ts.Format)
	if err != nil {
		return nil, err
	}

	queues, err := b.tilesetQueues(ctx, ts, true)
	if err != nil {
		return nil, err
	}

	wo := ts.WorkerOpts()
	bounds := ts.BoundsOrWorld()
	total := 0
	for i, z := 0, ts.MinZoom; z <= ts.MaxZoom; i, z = i+1, z+1 {
		r := CoveringRange(bounds, z, wo.Width)
		b.logger.Debugf("Zoom level %d: %d x %d = %d tiles", z, r.MaxX-r.MinX+1, r.MaxY-r.MinY+1, r.Count())
		if err := queues[i].Enqueue(ctx, TileJobs(r, tilePath, ext)...); err != nil {
			return nil, err
		}
		total += r.Count()
	}
	b.logger.Infof("Rendering %d tiles of %s across zoom levels %d-%d", total, ts.Name, ts.MinZoom, ts.MaxZoom)

	if _, err := b.runPool(ctx, ts.Name, queues, wo, filepath.Join(tilePath, "build.json")); err != nil {
		return nil, err
	}

	output, _ := b.config.Output(ts.Output)
	if output.Archive {
		progress := invar.NewProgress(b.logger)
		archivePath := filepath.Join(outputPath, ts.Name+".mbtiles")
		n, err := packTileset(b.config, ts, archivePath)
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", ts.Name, err)
		}
		progress.Done("Packed archive", "path", archivePath, "tiles", n)
	}

	return &web.TilesetData{
		Name:     ts.Name,
		URL:      fmt.Sprintf("tiles/%s/{z}/{x}/{y}.%s", ts.Name, ext),
		TileSize: wo.Width,
		MinZoom:  ts.MinZoom,
		MaxZoom:  ts.MaxZoom,
		Bounds:   bounds,
		Center:   [2]float64{(bounds[0] + bounds[2]) / 2, (bounds[1] + bounds[3]) / 2},
		Grid:     wo.Grid != nil,
	}, nil
}

func (b *builder) buildFrameset(ctx context.Context, fs *invar.FramesetConfigBlock) (*web.FramesetData, error) {
	framePath := filepath.Join(b.outputPath(fs.Output), "frames", fs.Name)
	if err := ensureDirectory(framePath); err != nil {
		return nil, err
	}

	ext, err := invar.FormatExtension(fs.Format)
	if err != nil {
		return nil, err
	}

	q, err := b.newQueue(ctx, frameQueueName(fs.Name), true)
	if err != nil {
		return nil, err
	}
	if err := q.Enqueue(ctx, FrameJobs(fs, framePath, ext)...); err != nil {
		return nil, err
	}
	b.logger.Infof("Rendering %d frames of %s", len(fs.Frames), fs.Name)

	if _, err := b.runPool(ctx, fs.Name, []invar.Queue{q}, fs.WorkerOpts(), filepath.Join(framePath, "build.json")); err != nil {
		return nil, err
	}

	data := &web.FramesetData{Name: fs.Name}
	for _, f := range fs.Frames {
		data.Frames = append(data.Frames, web.FrameData{
			Name: f.Name,
			URL:  fmt.Sprintf("frames/%s/%s.%s", fs.Name, f.Name, ext),
		})
	}
	return data, nil
}

// Build renders every tileset and frameset of config, then writes archives
// and preview pages for the outputs that ask for them.
func Build(ctx context.Context, config *invar.Config, opts BuildOpts) error {
	b := newBuilder(config, opts)
	defer b.Close()

	frontends := map[string]*web.FrontendData{}
	for _, output := range config.Outputs {
		if err := ensureDirectory(config.Resolve(output.Path)); err != nil {
			return err
		}
		frontends[output.Name] = &web.FrontendData{
			Tilesets:  []web.TilesetData{},
			Framesets: []web.FramesetData{},
		}
	}

	for _, ts := range config.Tilesets {
		data, err := b.buildTileset(ctx, ts)
		if err != nil {
			return fmt.Errorf("tileset %s: %w", ts.Name, err)
		}
		frontends[ts.Output].Tilesets = append(frontends[ts.Output].Tilesets, *data)
	}

	for _, fs := range config.Framesets {
		data, err := b.buildFrameset(ctx, fs)
		if err != nil {
			return fmt.Errorf("frameset %s: %w", fs.Name, err)
		}
		frontends[fs.Output].Framesets = append(frontends[fs.Output].Framesets, *data)
	}

	for _, output := range config.Outputs {
		if output.IncludeStatic {
			err := writeStatic(config.Resolve(output.Path), *frontends[output.Name])
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Work attaches extra workers to the Redis queues of a set that another
// process already filled, and drains them.
func Work(ctx context.Context, config *invar.Config, set string, opts BuildOpts) error {
	if config.QueueBackend() != "redis" && opts.Redis == nil {
		return fmt.Errorf("work requires the redis queue backend")
	}
	b := newBuilder(config, opts)
	defer b.Close()

	if ts, ok := config.Tileset(set); ok {
		queues, err := b.tilesetQueues(ctx, ts, false)
		if err != nil {
			return err
		}
		tilePath := filepath.Join(b.outputPath(ts.Output), "tiles", ts.Name)
		_, err = b.runPool(ctx, ts.Name, queues, ts.WorkerOpts(), filepath.Join(tilePath, "build.worker.json"))
		return err
	}

	if fs, ok := config.Frameset(set); ok {
		q, err := b.newQueue(ctx, frameQueueName(fs.Name), false)
		if err != nil {
			return err
		}
		framePath := filepath.Join(b.outputPath(fs.Output), "frames", fs.Name)
		_, err = b.runPool(ctx, fs.Name, []invar.Queue{q}, fs.WorkerOpts(), filepath.Join(framePath, "build.worker.json"))
		return err
	}

	return fmt.Errorf("unknown set %q", set)
}

func packTileset(config *invar.Config, ts *invar.TilesetConfigBlock, dst string) (int, error) {
	ext, err := invar.FormatExtension(ts.Format)
	if err != nil {
		return 0, err
	}
	format, _ := invar.NormalizeFormat(ts.Format)

	output, _ := config.Output(ts.Output)
	tilePath := filepath.Join(config.Resolve(output.Path), "tiles", ts.Name)

	bounds := ts.BoundsOrWorld()
	return archive.PackDir(tilePath, ext, dst, archive.Metadata{
		Name:        ts.Name,
		Description: fmt.Sprintf("%s rendered by invar", ts.Name),
		Format:      format,
		TileSize:    ts.WorkerOpts().Width,
		MinZoom:     ts.MinZoom,
		MaxZoom:     ts.MaxZoom,
		Bounds:      [4]float64{bounds[0], bounds[1], bounds[2], bounds[3]},
	})
}

// Pack writes the archive of an already rendered tileset. An empty dst
// places it next to the tiles' output directory.
func Pack(config *invar.Config, set string, dst string) (int, error) {
	ts, ok := config.Tileset(set)
	if !ok {
		return 0, fmt.Errorf("unknown tileset %q", set)
	}

	if dst == "" {
		output, _ := config.Output(ts.Output)
		dst = filepath.Join(config.Resolve(output.Path), ts.Name+".mbtiles")
	}
	return packTileset(config, ts, dst)
}
