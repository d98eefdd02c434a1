package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smsbridge/bridge"
	"smsbridge/channel"
	"smsbridge/delivery"
	"smsbridge/health"
	"smsbridge/internal/audit"
	"smsbridge/internal/config"
	"smsbridge/internal/logging"
	"smsbridge/smpp"
	"smsbridge/storage"
	"smsbridge/tlsconfig"
	"smsbridge/transport"
	"smsbridge/transport/loopback"
)

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	audit.RefreshFromEnv()

	logger, err := logging.New(logging.Options{
		Level:  config.String("SMSBRIDGE_LOG_LEVEL", "info"),
		Format: config.String("SMSBRIDGE_LOG_FORMAT", "json"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("smsbridge stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, logger *zap.Logger) (err error) {
	tx, closer, err := buildTransport(config.String("SMSBRIDGE_TRANSPORT", "loopback"), logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closer.Close()) }()

	sims, err := bridge.ParseSimCards(config.String("SMSBRIDGE_SIM_CARDS", ""))
	if err != nil {
		return err
	}
	spool := storage.NewSpool(config.String("SMSBRIDGE_SPOOL_DIR", ""))
	b, err := bridge.New(bridge.Options{
		Transport: tx,
		Gate:      bridge.StaticGate(config.Bool("SMSBRIDGE_SEND_PERMITTED", true)),
		Sims:      sims,
		Spool:     spool,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	healthSrv, healthLn, err := health.StartHealthServer(config.String("SMSBRIDGE_HEALTH_LISTEN", ":8080"))
	if err != nil {
		return err
	}
	defer healthLn.Close()

	ln, err := listen(config.String("SMSBRIDGE_LISTEN", ":8765"), logger)
	if err != nil {
		return err
	}

	srv := channel.NewServer(b, channel.Options{
		AllowedNetworks: config.AllowedNetworks(),
		IdleTimeout:     config.Duration("SMSBRIDGE_IDLE_TIMEOUT", 15*time.Minute),
		Logger:          logger,
	})
	logger.Info("smsbridge started",
		zap.String("listen", ln.Addr().String()),
		zap.String("health", healthLn.Addr().String()),
		zap.String("spool", spool.Dir()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// listen opens the channel listener, wrapped in TLS unless disabled.
func listen(addr string, logger *zap.Logger) (net.Listener, error) {
	tlsConf, err := tlsconfig.LoadTLSConfig()
	if err != nil && !errors.Is(err, tlsconfig.ErrTLSDisabled) {
		return nil, fmt.Errorf("load TLS: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if tlsConf == nil {
		logger.Info("channel plaintext listening", zap.String("addr", addr))
		return ln, nil
	}
	audit.Log("channel TLS enabled", zap.String("addr", addr))
	return tls.NewListener(ln, tlsConf), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// buildTransport selects the transport named by SMSBRIDGE_TRANSPORT.
func buildTransport(name string, logger *zap.Logger) (transport.Transport, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "loopback":
		lb := loopback.New()
		lb.Delay = config.Duration("SMSBRIDGE_LOOPBACK_DELAY", 0)
		return lb, nopCloser{}, nil
	case "smpp":
		cfg, err := smpp.ConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		tx, err := smpp.Dial(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return tx, tx, nil
	case "gateway":
		gw, err := delivery.GatewayFromEnv(logger)
		if err != nil {
			return nil, nil, err
		}
		return gw, gw, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", name)
}
