package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/b1naryth1ef/invar"
	"github.com/b1naryth1ef/invar/archive"
	"github.com/b1naryth1ef/invar/build"
	"github.com/b1naryth1ef/invar/web"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"
)

func main() {
	configFlag := &cli.PathFlag{
		Name:  "config",
		Usage: "path to the configuration file",
		Value: "invar.hcl",
	}

	app := &cli.App{
		Name:        "invar",
		Description: "render map tiles and frames with a pool of workers",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "render every tileset and frameset of the configuration",
				Action: commandBuild,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "skip-existing",
						Usage: "skip jobs whose output file already exists",
						Value: false,
					},
				},
			},
			{
				Name:      "work",
				Usage:     "drain the redis queues of a set filled by another build",
				ArgsUsage: "SET",
				Action:    commandWork,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "skip-existing",
						Usage: "skip jobs whose output file already exists",
					},
				},
			},
			{
				Name:      "pack",
				Usage:     "pack a rendered tileset into an mbtiles archive",
				ArgsUsage: "TILESET",
				Action:    commandPack,
				Flags: []cli.Flag{
					configFlag,
					&cli.PathFlag{
						Name:  "out",
						Usage: "archive path (defaults to <output>/<tileset>.mbtiles)",
					},
				},
			},
			{
				Name:      "serve",
				Usage:     "serve an output directory for preview",
				ArgsUsage: "DIR",
				Action:    commandServe,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "listen address",
						Value: "127.0.0.1:8080",
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func newLogger(ctx *cli.Context) *log.Logger {
	level := log.InfoLevel
	if ctx.Bool("verbose") {
		level = log.DebugLevel
	}
	return invar.NewLogger(os.Stderr, level)
}

func commandBuild(ctx *cli.Context) error {
	config, err := invar.LoadConfig(ctx.Path("config"))
	if err != nil {
		return err
	}

	return build.Build(context.Background(), config, build.BuildOpts{
		SkipExisting: ctx.Bool("skip-existing"),
		Logger:       newLogger(ctx),
	})
}

func commandWork(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("work requires exactly one SET argument", 1)
	}

	config, err := invar.LoadConfig(ctx.Path("config"))
	if err != nil {
		return err
	}

	return build.Work(context.Background(), config, ctx.Args().First(), build.BuildOpts{
		SkipExisting: ctx.Bool("skip-existing"),
		Logger:       newLogger(ctx),
	})
}

func commandPack(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("pack requires exactly one TILESET argument", 1)
	}

	config, err := invar.LoadConfig(ctx.Path("config"))
	if err != nil {
		return err
	}

	logger := newLogger(ctx)
	progress := invar.NewProgress(logger)
	n, err := build.Pack(config, ctx.Args().First(), ctx.Path("out"))
	if err != nil {
		return err
	}
	progress.Done("Packed archive", "tileset", ctx.Args().First(), "tiles", n)
	return nil
}

func commandServe(ctx *cli.Context) error {
	root := ctx.Args().First()
	if root == "" {
		root = "."
	}
	logger := newLogger(ctx)

	archives := map[string]*archive.MBTiles{}
	matches, err := filepath.Glob(filepath.Join(root, "*.mbtiles"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		m, err := archive.Open(path)
		if err != nil {
			return err
		}
		defer m.Close()
		archives[strings.TrimSuffix(filepath.Base(path), ".mbtiles")] = m
	}

	logger.Info("Serving preview", "dir", root, "addr", ctx.String("addr"), "archives", len(archives))
	return http.ListenAndServe(ctx.String("addr"), web.NewHandler(root, archives))
}
