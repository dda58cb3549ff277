// Command scanagent runs the scan agent: it accepts files over the scan
// protocol, scans them with clamscan (or a clamd daemon) and answers with a
// fixed-width verdict.
//
// Usage:
//
//	scanagent [-addr host:port] [-temp dir] [-scanner path] [-clamd addr] [-debug]
//
// Flags default to the SCANAGENT_ADDR, SCANAGENT_TEMP, SCANAGENT_SCANNER and
// SCANAGENT_CLAMD environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gonzalop/ftpgate/scanagent"
)

const shutdownGrace = 10 * time.Second

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func main() {
	addr := flag.String("addr", envOr("SCANAGENT_ADDR", scanagent.DefaultAddr), "listen address")
	temp := flag.String("temp", envOr("SCANAGENT_TEMP", ""), "parent directory for uploads (default: system temp dir)")
	scanner := flag.String("scanner", envOr("SCANAGENT_SCANNER", scanagent.DefaultScannerPath), "scanner executable, called as <scanner> --no-summary <file>")
	clamdAddr := flag.String("clamd", envOr("SCANAGENT_CLAMD", ""), "clamd address (tcp://host:port or socket path); overrides -scanner")
	scanTimeout := flag.Duration("scan-timeout", 0, "limit for a single scan (0 = none)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, *addr, *temp, *scanner, *clamdAddr, *scanTimeout); err != nil {
		logger.Error("scan agent failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, temp, scannerPath, clamdAddr string, scanTimeout time.Duration) error {
	var scanner scanagent.Scanner = &scanagent.CommandScanner{Path: scannerPath}
	if clamdAddr != "" {
		cs := &scanagent.ClamdScanner{Addr: clamdAddr}
		if err := cs.Ping(); err != nil {
			return fmt.Errorf("clamd at %s: %w", clamdAddr, err)
		}
		scanner = cs
		logger.Info("using clamd", "addr", clamdAddr)
	}

	srv, err := scanagent.NewServer(addr,
		scanagent.WithLogger(logger),
		scanagent.WithTempDir(temp),
		scanagent.WithScanner(scanner),
		scanagent.WithScanTimeout(scanTimeout),
	)
	if err != nil {
		return err
	}

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-served:
		return err
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	if err := <-served; !errors.Is(err, scanagent.ErrServerClosed) {
		return err
	}
	return nil
}
