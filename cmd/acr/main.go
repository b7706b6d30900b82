package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"acr/internal/config"
	"acr/internal/export"
	"acr/internal/logging"
	"acr/internal/session"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "acr: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "./acr.yaml",
		Usage:   "Load configuration from `FILE`",
	}
	basePathFlag := &cli.StringFlag{
		Name:  "base-path",
		Usage: "override base_path (sessions are written under <base-path>/logs/acr)",
	}

	return &cli.App{
		Name:  "acr",
		Usage: "record a GPS trajectory and operator-flagged cones",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the recorder",
				Flags: []cli.Flag{
					configFlag,
					basePathFlag,
					&cli.StringFlag{
						Name:  "gps-device",
						Usage: "override gps.device (serial device, capture file, gpsd:<addr> or sim)",
					},
					&cli.BoolFlag{
						Name:  "keyboard",
						Usage: "use the keyboard instead of GPIO buttons and LEDs",
					},
				},
				Action: runAction,
			},
			{
				Name:   "sessions",
				Usage:  "list recorded sessions",
				Flags:  []cli.Flag{configFlag, basePathFlag},
				Action: sessionsAction,
			},
			{
				Name:      "export",
				Usage:     "write a session's cones and trajectory as GeoJSON",
				ArgsUsage: "<session name or directory>",
				Flags: []cli.Flag{
					configFlag,
					basePathFlag,
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "write to `FILE` instead of stdout",
					},
				},
				Action: exportAction,
			},
		},
	}
}

// loadConfig reads the config file. A missing file at the default path
// falls back to built-in defaults.
func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if !c.IsSet("config") && errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
		} else {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
	}
	if p := c.String("base-path"); p != "" {
		cfg.BasePath = p
	}
	return cfg, nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if d := c.String("gps-device"); d != "" {
		cfg.GPS.Device = d
	}
	if c.Bool("keyboard") {
		cfg.Input.Backend = "keyboard"
		cfg.LED.Backend = "keyboard"
	}

	log, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("input", cfg.Input.Backend).Str("led", cfg.LED.Backend).Msg("acr starting")
	err = newRuntime(cfg, log, c.App.Writer).run(ctx)
	log.Info().Msg("acr stopping")
	return err
}

func sessionsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	infos, err := session.List(cfg.BasePath)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintf(c.App.Writer, "no sessions under %s\n", session.Root(cfg.BasePath))
		return nil
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tPATH")
	for _, i := range infos {
		kind := "markers"
		if i.Prefix == session.PrefixTrajectory {
			kind = "trajectory"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", i.Name, kind, i.Path)
	}
	return w.Flush()
}

func exportAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("export takes exactly one session name or directory")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	dir := c.Args().First()
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) && filepath.Base(dir) == dir {
		dir = filepath.Join(session.Root(cfg.BasePath), dir)
	}

	log, closer, err := logging.New(logging.Config{Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	defer closer.Close()

	out := c.App.Writer
	if p := c.String("out"); p != "" {
		f, err := os.Create(p)
		if err != nil {
			return fmt.Errorf("export create %s: %w", p, err)
		}
		defer f.Close()
		out = f
	}

	sum, err := export.Session(dir, out, log)
	if err != nil {
		return err
	}
	log.Info().
		Str("session", dir).
		Int("cones", sum.Markers).
		Int("skipped", sum.Skipped).
		Int("track_points", sum.TrackPoints).
		Float64("track_length_m", sum.TrackLengthM).
		Msg("export done")
	return nil
}
