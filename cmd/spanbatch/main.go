// Command spanbatch demonstrates the batching span processor end to end:
// it wires a BatchSpanProcessor into a real OTel TracerProvider, drives a
// handful of simulated concurrent producers through it, and shuts down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/JSGette/spanbatch/internal/fileexporter"
	"github.com/JSGette/spanbatch/internal/memexporter"
	"github.com/JSGette/spanbatch/internal/spanbatch"
	"github.com/JSGette/spanbatch/internal/spangen"
)

// envConfig holds the overrides spanbatch will read from the environment
// before flags are applied on top. Flags always win when both are set.
type envConfig struct {
	MaxQueueSize       int           `env:"SPANBATCH_MAX_QUEUE_SIZE" envDefault:"0"`
	ScheduleDelay      time.Duration `env:"SPANBATCH_SCHEDULE_DELAY" envDefault:"0"`
	MaxExportBatchSize int           `env:"SPANBATCH_MAX_EXPORT_BATCH_SIZE" envDefault:"0"`
}

var (
	exporterKind  = flag.String("exporter", "memory", "Exporter to use: memory or file")
	filePath      = flag.String("file-path", "./spans.jsonl", "Output path when -exporter=file")
	maxQueueSize  = flag.Int("max-queue-size", 0, "Ring buffer capacity (0 = use default/env)")
	scheduleDelay = flag.Duration("schedule-delay", 0, "Worker idle interval (0 = use default/env)")
	maxBatchSize  = flag.Int("max-export-batch-size", 0, "Max spans per export call (0 = use default/env)")
	exportAsync   = flag.Bool("async", false, "Export spans through the async path")
	producers     = flag.Int("producers", 8, "Number of concurrent simulated span producers")
	spansEach     = flag.Int("spans-each", 50, "Spans each producer ends")
	logJSON       = flag.Bool("log-json", false, "Log in JSON format")
)

func main() {
	flag.Parse()

	var handler slog.Handler
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Error("failed to parse environment overrides", "error", err)
		os.Exit(1)
	}

	opts := resolveOptions(cfg, logger)

	exp, err := buildExporter(*exporterKind, *filePath)
	if err != nil {
		logger.Error("failed to build exporter", "error", err)
		os.Exit(1)
	}

	processor, err := spanbatch.NewBatchSpanProcessor(exp, opts...)
	if err != nil {
		logger.Error("failed to construct batch span processor", "error", err)
		os.Exit(1)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(processor))
	otel.SetTracerProvider(tp)
	tracer := tp.Tracer("spanbatch-demo")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting producers", "count", *producers, "spans_each", *spansEach)
	var wg sync.WaitGroup
	for i := 0; i < *producers; i++ {
		wg.Add(1)
		go runProducer(ctx, &wg, tracer, i, *spansEach)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all producers finished")
	case <-ctx.Done():
		logger.Info("shutdown signal received before producers finished")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down tracer provider")
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer provider shutdown returned an error", "error", err)
	}

	logger.Info("shutdown complete")
}

func resolveOptions(cfg envConfig, logger *slog.Logger) []spanbatch.Option {
	var opts []spanbatch.Option
	opts = append(opts, spanbatch.WithLogger(logger))

	if n := firstNonZero(*maxQueueSize, cfg.MaxQueueSize); n > 0 {
		opts = append(opts, spanbatch.WithMaxQueueSize(n))
	}
	if d := firstNonZeroDuration(*scheduleDelay, cfg.ScheduleDelay); d > 0 {
		opts = append(opts, spanbatch.WithScheduleDelay(d))
	}
	if n := firstNonZero(*maxBatchSize, cfg.MaxExportBatchSize); n > 0 {
		opts = append(opts, spanbatch.WithMaxExportBatchSize(n))
	}
	if *exportAsync {
		opts = append(opts, spanbatch.WithExportAsync(0))
	}
	return opts
}

func firstNonZero(flagVal, envVal int) int {
	if flagVal != 0 {
		return flagVal
	}
	return envVal
}

func firstNonZeroDuration(flagVal, envVal time.Duration) time.Duration {
	if flagVal != 0 {
		return flagVal
	}
	return envVal
}

func buildExporter(kind, path string) (spanbatch.SpanExporter, error) {
	switch kind {
	case "memory":
		return memexporter.New(0), nil
	case "file":
		return fileexporter.New(path, "spanbatch-demo")
	default:
		return nil, fmt.Errorf("unknown exporter kind %q (want memory or file)", kind)
	}
}

// runProducer simulates one concurrent span producer: it starts and ends
// n spans with jittered durations through a spangen.Simulator over tracer,
// so every span handed to the processor is a genuine sdktrace.ReadOnlySpan.
func runProducer(ctx context.Context, wg *sync.WaitGroup, tracer trace.Tracer, id, n int) {
	defer wg.Done()

	sim := spangen.New(tracer)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		name := spangen.UniqueName(fmt.Sprintf("producer-%d-span-%d", id, i))
		sim.Start(ctx, name)
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		sim.End(name)
	}
}
