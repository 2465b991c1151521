// escrowd runs the event reconciliation indexer with its read-only HTTP
// API. With no ledger endpoint configured it wires the in-process
// simulation ledger, which is enough for local development against the
// escrow engine.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/hypersdk/codec"

	"github.com/ratnathegod/satellite-sla-marketplace/api"
	"github.com/ratnathegod/satellite-sla-marketplace/config"
	"github.com/ratnathegod/satellite-sla-marketplace/content"
	"github.com/ratnathegod/satellite-sla-marketplace/events"
	"github.com/ratnathegod/satellite-sla-marketplace/indexer"
	"github.com/ratnathegod/satellite-sla-marketplace/ledger"
	"github.com/ratnathegod/satellite-sla-marketplace/scandb"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logFactory := logging.NewFactory(logging.Config{
		DisplayLevel: logging.Info,
		LogLevel:     logging.Debug,
	})
	logger, err := logFactory.Make("escrowd")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal(fmt.Sprintf("escrowd failed: %v", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	contract, err := parseAddress(cfg.Contract)
	if err != nil {
		return fmt.Errorf("contract address: %w", err)
	}

	var client ledger.Client
	if cfg.LedgerEndpoint == "" {
		logger.Info("no ledger endpoint configured; using in-process simulation ledger")
		client = ledger.NewMemory(uint64(time.Now().Unix()))
	} else {
		// Remote transports are deployment collaborators; this daemon
		// only ships the simulation client.
		return fmt.Errorf("remote ledger endpoint %q not supported by this build", cfg.LedgerEndpoint)
	}

	reader, err := events.NewReader(client, contract, events.NewRegistry(), cfg.Reader, logger)
	if err != nil {
		return err
	}

	// The simulation build pairs the simulation ledger with an in-process
	// content store.
	resolver, err := content.NewResolver(content.NewMemStore(), cfg.Content, logger)
	if err != nil {
		return err
	}
	prefetcher, err := content.NewPrefetcher(resolver, cfg.Prefetch, logger)
	if err != nil {
		return err
	}
	prefetcher.Start()
	defer prefetcher.Stop()

	store, err := scandb.New(cfg.ScanDB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	syncer, err := indexer.NewSyncer(reader, store, contract, prefetcher, cfg.Indexer, logger)
	if err != nil {
		return err
	}
	if err := syncer.Start(); err != nil {
		return err
	}
	defer syncer.Stop()

	monitor := indexer.NewMonitor(cfg.Monitor, logger)
	monitor.Start()
	defer monitor.Stop()

	server, err := api.NewServer(cfg.API, syncer, monitor, prefetcher, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(fmt.Sprintf("received %s, shutting down", sig))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	return server.Shutdown(context.Background())
}

func parseAddress(s string) (codec.Address, error) {
	var addr codec.Address
	if s == "" {
		return addr, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return addr, err
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("expected %d address bytes, got %d", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
