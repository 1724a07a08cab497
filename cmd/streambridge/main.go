// Command streambridge runs one upstream response through an engine and prints
// the event sequence its consumer receives.
//
// Usage:
//
//	streambridge [-config path] -url https://example.com/
//	streambridge [-config path] -frames capture.bin -stream-id 1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"example.com/streambridge/internal/abi"
	"example.com/streambridge/internal/config"
	"example.com/streambridge/internal/engine"
	"example.com/streambridge/internal/logger"
	"example.com/streambridge/internal/stream"
	"example.com/streambridge/internal/upstream"
)

var (
	configFilePath string
	targetURL      string
	framesPath     string
	streamID       uint
)

func main() {
	flag.StringVar(&configFilePath, "config", "", "Path to the configuration file (JSON or TOML)")
	flag.StringVar(&targetURL, "url", "", "URL to fetch")
	flag.StringVar(&framesPath, "frames", "", "File holding server-to-client HTTP/2 frames to replay")
	flag.UintVar(&streamID, "stream-id", 1, "HTTP/2 stream to follow when replaying -frames")
	flag.Parse()

	if (targetURL == "") == (framesPath == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -url or -frames must be provided.")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(configFilePath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	os.Exit(run(cfg, appLogger))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	return config.LoadConfig(abs)
}

func run(cfg *config.Config, appLogger *logger.Logger) int {
	defer func() {
		if err := appLogger.CloseLogFiles(); err != nil {
			log.Printf("Error closing log files during shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		opts []engine.Option
		reg  *prometheus.Registry
	)
	if *cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		opts = append(opts, engine.WithMetrics(stream.NewMetrics(reg, cfg.Metrics.Namespace)))
		if addr := cfg.Metrics.ListenAddress; addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsHandler(reg)}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					appLogger.Error("Metrics listener failed", logger.LogFields{"address": addr, "error": err.Error()})
				}
			}()
			defer srv.Close()
			appLogger.Info("Serving metrics", logger.LogFields{"address": addr})
		}
	}

	eng, err := engine.New(cfg, abi.EngineCallbacks{
		OnExit: func(any) { appLogger.Info("Engine exited", nil) },
	}, appLogger, opts...)
	if err != nil {
		appLogger.Error("Failed to create engine", logger.LogFields{"error": err.Error()})
		return 1
	}

	p := newPrinter(os.Stdout)
	_, s, status := eng.StartStream(abi.HandlerCallbacks(p, 0))
	if status != abi.StatusSuccess {
		appLogger.Error("Failed to start stream", nil)
		return 1
	}

	attempts := *cfg.Upstream.AttemptCount
	if targetURL != "" {
		err = fetch(ctx, s, targetURL, upstream.HTTPResponseSource{
			ChunkSize:    *cfg.Upstream.ChunkSize,
			AttemptCount: attempts,
			Logger:       appLogger,
		})
	} else {
		err = replay(ctx, s, framesPath, upstream.H2Source{
			StreamID:          uint32(streamID),
			HeaderTableSize:   *cfg.Upstream.HeaderTableSize,
			MaxHeaderListSize: *cfg.Upstream.MaxHeaderListSize,
			AttemptCount:      attempts,
			Logger:            appLogger,
		})
	}
	if err != nil {
		appLogger.Warn("Upstream finished with error", logger.LogFields{"error": err.Error()})
	}

	<-s.Done()
	if err := eng.Terminate(context.Background()); err != nil {
		appLogger.Error("Engine termination failed", logger.LogFields{"error": err.Error()})
	}
	if reg != nil {
		if err := dumpMetrics(reg); err != nil {
			appLogger.Error("Failed to write metrics", logger.LogFields{"error": err.Error()})
		}
	}
	return int(p.exitCode.Load())
}

func fetch(ctx context.Context, s *stream.Stream, url string, src upstream.HTTPResponseSource) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		reportFailure(s, src.Logger, abi.NewError(abi.ErrorCodeUndefined, err.Error(), src.AttemptCount))
		return err
	}
	upstream.InjectTraceContext(s, req.Header)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			s.Cancel()
			return ctx.Err()
		}
		reportFailure(s, src.Logger, abi.NewError(abi.ErrorCodeConnectionFailure, err.Error(), src.AttemptCount))
		return err
	}
	return src.Run(ctx, s, resp)
}

func replay(ctx context.Context, s *stream.Stream, path string, src upstream.H2Source) error {
	f, err := os.Open(path)
	if err != nil {
		reportFailure(s, src.Logger, abi.NewError(abi.ErrorCodeConnectionFailure, err.Error(), src.AttemptCount))
		return err
	}
	defer f.Close()
	return src.Run(ctx, s, f)
}

// reportFailure ends s with e. A stream that already terminated rejects it,
// which is logged rather than returned.
func reportFailure(s *stream.Stream, lg *logger.Logger, e abi.Error) {
	if err := s.SendError(e); err != nil {
		lg.Warn("Failed to deliver upstream error", logger.LogFields{
			"stream": int64(s.Handle()),
			"code":   e.Code.String(),
			"error":  err.Error(),
		})
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func dumpMetrics(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	return writeFamilies(os.Stderr, families)
}

// writeFamilies renders families in the Prometheus text exposition format.
func writeFamilies(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
