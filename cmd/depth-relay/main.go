package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/depth.relay/internal/api"
	"github.com/banshee-data/depth.relay/internal/config"
	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/driver"
	"github.com/banshee-data/depth.relay/internal/monitoring"
	"github.com/banshee-data/depth.relay/internal/paramstore"
	"github.com/banshee-data/depth.relay/internal/publish"
	"github.com/banshee-data/depth.relay/internal/security"
	"github.com/banshee-data/depth.relay/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a JSON bridge config")
	devMode      = flag.Bool("dev", false, "Run against a mock device emitting synthetic frames")
	listen       = flag.String("listen", "", "HTTP listen address (overrides config, default :8080)")
	grpcAddr     = flag.String("grpc", "", "Frame stream gRPC address (overrides config, default localhost:50061)")
	dbPath       = flag.String("db", "", "Parameter store path (overrides config); \"none\" disables the store")
	schemaDir    = flag.String("schema-dir", "", "Directory receiving one pipeline graph JSON per build (overrides config)")
	pipelineType = flag.String("pipeline", "", "Pipeline type, Depth or ToF (overrides config)")
	syntheticFPS = flag.Float64("fps", 0, "Synthetic frame rate in dev mode (overrides config)")
	debugLog     = flag.Bool("debug", false, "Enable debug logging")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads -config, if given, and applies the flag overrides.
func loadConfig() (*config.BridgeConfig, error) {
	cfg := config.EmptyBridgeConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadBridgeConfig(*configPath); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	if dir := cfg.GetSchemaDir(); dir != "" {
		if err := security.ValidateOutputDir(dir); err != nil {
			return nil, fmt.Errorf("invalid schema_dir: %w", err)
		}
	}
	return cfg, nil
}

// applyFlags copies every flag given a non-zero value into cfg.
func applyFlags(cfg *config.BridgeConfig) {
	if *listen != "" {
		cfg.Listen = listen
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = grpcAddr
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *schemaDir != "" {
		cfg.SchemaDir = schemaDir
	}
	if *pipelineType != "" {
		cfg.PipelineType = pipelineType
	}
	if *syntheticFPS > 0 {
		cfg.SyntheticFPS = syntheticFPS
	}
	if *debugLog {
		cfg.Debug = debugLog
	}
}

// openDevice returns the device to drive. Hardware transports live outside
// this module; the mock device is the only built-in one.
func openDevice(dev bool) (device.Device, *device.MockDevice, error) {
	if !dev {
		return nil, nil, errors.New("no hardware device transport is linked into this build; run with -dev")
	}
	mock := device.NewMockDevice(nil)
	return mock, mock, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	monitoring.SetDebug(cfg.GetDebug() || monitoring.DebugEnabled())
	log.Printf("%s starting: %s pipeline", version.String(), cfg.GetPipelineType())

	src, err := cfg.ParamSource()
	if err != nil {
		log.Fatalf("failed to read config params: %v", err)
	}

	var store *paramstore.Store
	if p := cfg.GetDBPath(); p != "none" {
		store, err = paramstore.Open(p)
		if err != nil {
			log.Fatalf("failed to open parameter store: %v", err)
		}
		defer store.Close()
	}

	dev, mock, err := openDevice(*devMode)
	if err != nil {
		log.Fatal(err)
	}

	hub := publish.NewHub()
	defer hub.Close()

	drv := driver.New(dev, driver.Options{
		PipelineType: cfg.GetPipelineType(),
		TFPrefix:     cfg.GetTFPrefix(),
		Source:       src,
		Transport:    hub,
		Store:        store,
		SchemaDir:    cfg.GetSchemaDir(),
	})
	defer drv.Close()
	if err := drv.Start(context.Background()); err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}

	streamCfg := publish.DefaultServerConfig()
	streamCfg.ListenAddr = cfg.GetGRPCAddr()
	frames := publish.NewFrameStreamServer(hub, streamCfg)
	if err := frames.Start(); err != nil {
		log.Fatalf("failed to start frame stream server: %v", err)
	}
	defer frames.Stop()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mock != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mock.RunSynthetic(ctx, cfg.GetSyntheticFPS()); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("synthetic frame source stopped: %v", err)
			}
			log.Print("synthetic frame routine terminated")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(drv, hub, store).ServeMux()
		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
