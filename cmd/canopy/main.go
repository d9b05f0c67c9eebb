package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-canopy/internal/server"
	"github.com/joeblew999/plat-canopy/internal/service"
	"github.com/joeblew999/plat-canopy/internal/tiles"
)

// Options defines all CLI flags and env vars for the canopy server.
// Flags: --host, --port, --data-dir, --web-dir, --backend-url, --tile-url,
// --tiles-dir, --shared-config, --verbose
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir      string `doc:"Directory for the database" default:".data"`
	WebDir       string `doc:"Path to web/ directory" default:"web"`
	BackendURL   string `doc:"Indicator API root, e.g. https://api.example.org/api/v1/"`
	TileURL      string `doc:"Vector tile server root; empty serves tiles from --tiles-dir"`
	TilesDir     string `doc:"Directory of {dataType}.pmtiles archives" default:".data/tiles"`
	SharedConfig string `doc:"Shared config file (JSON or YAML) overriding the embedded one"`
	Dev          bool   `doc:"Reload fragment templates from --web-dir when they change"`
	Verbose      bool   `doc:"Enable debug logging" short:"v"`
}

func newLogger(opts *Options) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if opts.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func newServer(opts *Options, logger *zap.Logger) *server.Server {
	srv, err := server.New(server.Config{
		Host:           opts.Host,
		Port:           fmt.Sprintf("%d", opts.Port),
		DataDir:        opts.DataDir,
		WebDir:         opts.WebDir,
		BackendURL:     opts.BackendURL,
		TileURL:        opts.TileURL,
		TilesDir:       opts.TilesDir,
		SharedConfig:   opts.SharedConfig,
		WatchTemplates: opts.Dev,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("create server", zap.Error(err))
	}
	return srv
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		logger := newLogger(opts)
		srv := newServer(opts, logger)
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-canopy server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			if opts.TileURL != "" {
				fmt.Printf("  Tiles:   %s\n", opts.TileURL)
			} else {
				fmt.Printf("  Tiles:   %s\n", opts.TilesDir)
			}
			fmt.Println()
			fmt.Printf("  Map:     %s/plantability/12/45.764/4.8357\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := srv.Preload(ctx); err != nil {
					logger.Warn("reference data not preloaded", zap.Error(err))
				}
			}()

			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(ctx)
			if err := srv.Close(); err != nil {
				logger.Warn("close server", zap.Error(err))
			}
			logger.Sync()
		})
	})

	cli.Root().Use = "canopy"
	cli.Root().Short = "Urban heat and tree plantability map server"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts, zap.NewNop())
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// routes subcommand: list the documented operations
	cli.Root().AddCommand(&cobra.Command{
		Use:   "routes",
		Short: "List API operations",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts, zap.NewNop())
			defer srv.Close()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range srv.Routes() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Method, r.Path, r.OperationID)
			}
			tw.Flush()
		}),
	})

	cli.Root().AddCommand(tilesCommand())

	cli.Run()
}

// tilesCommand builds PMTiles archives from GeoJSON for the local tile
// server.
func tilesCommand() *cobra.Command {
	tilesCmd := &cobra.Command{
		Use:   "tiles",
		Short: "Manage local vector tile archives",
	}

	buildCmd := &cobra.Command{
		Use:   "build <dataType> <file.geojson>",
		Short: "Build a data type's tile archive from a GeoJSON feature collection",
		Args:  cobra.ExactArgs(2),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			dt, err := service.ParseDataType(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			minZoom, _ := cmd.Flags().GetInt("min-zoom")
			maxZoom, _ := cmd.Flags().GetInt("max-zoom")

			n, path, err := buildArchive(opts.TilesDir, args[1], tiles.BuildOptions{
				DataType: dt,
				MinZoom:  minZoom,
				MaxZoom:  maxZoom,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error building tiles: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote %d tiles to %s\n", n, path)
		}),
	}
	buildCmd.Flags().Int("min-zoom", 0, "Lowest zoom to build (0 uses the data type's range)")
	buildCmd.Flags().Int("max-zoom", 0, "Highest zoom to build (0 uses the data type's range)")
	tilesCmd.AddCommand(buildCmd)

	tilesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the data types with a local archive",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			archives := tiles.NewArchives(opts.TilesDir)
			for _, dt := range archives.Available() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", dt, archives.Path(dt))
			}
		}),
	})
	return tilesCmd
}

func buildArchive(dir, source string, opts tiles.BuildOptions) (int, string, error) {
	raw, err := os.ReadFile(source)
	if err != nil {
		return 0, "", err
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return 0, "", fmt.Errorf("decode %s: %w", source, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", err
	}

	path := tiles.NewArchives(dir).Path(opts.DataType)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return 0, "", err
	}
	defer os.Remove(tmp.Name())

	n, err := tiles.WriteArchive(tmp, fc, opts)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, "", err
	}
	return n, path, os.Rename(tmp.Name(), path)
}
