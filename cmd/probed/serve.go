package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/probed/probed/internal/artifact"
	"github.com/probed/probed/internal/audit"
	"github.com/probed/probed/internal/config"
	"github.com/probed/probed/internal/dispatch"
	"github.com/probed/probed/internal/evaluator"
	"github.com/probed/probed/internal/logging"
	"github.com/probed/probed/internal/metrics"
	"github.com/probed/probed/internal/observability"
	"github.com/probed/probed/internal/pkg/vsock"
	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/transport/grpctransport"
	"github.com/probed/probed/internal/transport/memtransport"
	"github.com/probed/probed/internal/transport/vsocktransport"
)

var (
	flagTransport string
	flagGRPCAddr  string
	flagVsockPort int
	flagLogLevel  string
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch daemon",
		RunE:  runServe,
	}

	cmd.Flags().StringVar(&flagTransport, "transport", "", "Transport adapter: grpc, vsock, or mem")
	cmd.Flags().StringVar(&flagGRPCAddr, "addr", "", "gRPC listen address")
	cmd.Flags().IntVar(&flagVsockPort, "vsock-port", 0, "Vsock listen port")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("transport") {
		cfg.Transport.Kind = flagTransport
	}
	if cmd.Flags().Changed("addr") {
		cfg.Transport.GRPCAddr = flagGRPCAddr
	}
	if cmd.Flags().Changed("vsock-port") {
		cfg.Transport.VsockPort = flagVsockPort
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Observability.Logging.Level = flagLogLevel
	}

	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
	log := logging.Op()

	ctx := context.Background()
	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(ctx)

	if cfg.Observability.Metrics.Enabled {
		m := metrics.Init(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Observability.Metrics.Addr, mux); err != nil {
				log.Error("metrics server exited", "error", err)
			}
		}()
	}

	var auditSink dispatch.AuditSink = dispatch.NoopAuditSink{}
	if cfg.Audit.Enabled {
		sink, err := audit.Open(ctx, cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit sink: %w", err)
		}
		defer sink.Close()
		auditSink = sink
	}

	var artifactSink dispatch.ArtifactSink = dispatch.NoopArtifactSink{}
	if cfg.Artifacts.Enabled {
		sink, err := artifact.New(ctx, artifact.Options{
			Bucket:   cfg.Artifacts.Bucket,
			Region:   cfg.Artifacts.Region,
			Endpoint: cfg.Artifacts.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("init artifact sink: %w", err)
		}
		artifactSink = sink
	}

	adapter, closeTransport, err := buildTransport(cfg)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer closeTransport()

	dc := dispatch.NewContext(adapter, evaluator.Echo,
		dispatch.WithAuditSink(auditSink),
		dispatch.WithArtifactSink(artifactSink, cfg.Artifacts.InlineThresholdBytes),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- dc.Run(ctx)
	}()

	log.Info("probed started", "transport", cfg.Transport.Kind)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-runErrCh:
		if err != nil {
			log.Error("input loop exited with error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownDrainTimeout)
	defer cancel()
	if err := dc.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown drain did not complete cleanly", "error", err)
		return err
	}

	log.Info("probed stopped cleanly")
	return nil
}

// buildTransport constructs the configured transport.Adapter and returns
// a cleanup func to release any listener/server it owns.
func buildTransport(cfg *config.Config) (transport.Adapter, func(), error) {
	switch cfg.Transport.Kind {
	case "grpc", "":
		adapter := grpctransport.NewAdapter(16)
		server := grpctransport.NewServer(adapter)
		if err := server.Start(cfg.Transport.GRPCAddr); err != nil {
			return nil, nil, err
		}
		return adapter, server.Stop, nil

	case "vsock":
		listener, err := vsock.Listen(uint32(cfg.Transport.VsockPort), cfg.Transport.VsockUnixPath)
		if err != nil {
			return nil, nil, err
		}
		adapter, err := vsocktransport.Accept(listener)
		if err != nil {
			listener.Close()
			return nil, nil, err
		}
		return adapter, func() { listener.Close() }, nil

	case "mem":
		adapter := memtransport.New(16)
		return adapter, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}
