// tipledger runs the justthetip program on a local ledger.
//
// Usage:
//
//	tipledger derive -kind user|escrow -seed <id>
//	tipledger run -script scenario.yaml [-config ledger.yaml] [-in-memory]
//	tipledger version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/justthetip/internal/config"
	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/accounts"
	"github.com/fortiblox/justthetip/pkg/journal"
	"github.com/fortiblox/justthetip/pkg/justthetip"
	"github.com/fortiblox/justthetip/pkg/svm/runtime"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: tipledger <derive|run|version> [flags]\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "derive":
		err = deriveCmd(os.Args[2:], os.Stdout)
	case "run":
		err = runCmd(os.Args[2:], os.Stdout)
	case "version":
		fmt.Printf("tipledger %s (%s)\n", Version, GitCommit)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tipledger: %v\n", err)
		os.Exit(1)
	}
}

// deriveCmd prints a derived account address and its bump.
func deriveCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	kind := fs.String("kind", "user", "Address kind: user or escrow")
	seed := fs.String("seed", "", "User id, or airdrop label (64 hex chars are used as the raw id)")
	program := fs.String("program", types.JustTheTipProgramAddr.String(), "Program id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	programID, err := types.PubkeyFromBase58(*program)
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}

	switch *kind {
	case "user":
		addr, err := justthetip.UserAddress(programID, *seed)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %d\n", addr.Key, addr.Bump)
	case "escrow":
		id := airdropID(*seed)
		addr, err := justthetip.EscrowAddress(programID, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %d (airdrop %x)\n", addr.Key, addr.Bump, id)
	default:
		return fmt.Errorf("unknown kind %q", *kind)
	}
	return nil
}

// runCmd executes a script against the configured ledger.
func runCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	scriptPath := fs.String("script", "", "YAML script to execute")
	dataDir := fs.String("data-dir", "", "Data directory for accounts and receipts")
	inMemory := fs.Bool("in-memory", false, "Keep accounts in memory")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	verbose := fs.Bool("v", false, "Print program logs for every step")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scriptPath == "" {
		return errors.New("-script is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// Flags given on the command line win over the file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			cfg.DataDir = *dataDir
		case "in-memory":
			cfg.InMemory = *inMemory
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	script, err := LoadScript(*scriptPath)
	if err != nil {
		return err
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig.String()).Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.WithField("version", Version).Info("starting tipledger")
	return runLedger(ctx, cfg, logger, script, out, *verbose)
}

// runLedger opens the stores named by cfg and runs script.
func runLedger(ctx context.Context, cfg *config.Config, logger *logrus.Logger, script *Script, out io.Writer, verbose bool) error {
	programID, err := cfg.Program()
	if err != nil {
		return err
	}

	var db accounts.DB
	if cfg.InMemory {
		db = accounts.NewMemoryDB()
	} else {
		dbCfg := accounts.DefaultBadgerDBConfig(cfg.AccountsDir())
		dbCfg.Logger = logger.WithField("component", "badger")
		if db, err = accounts.NewBadgerDB(dbCfg); err != nil {
			return fmt.Errorf("open accounts: %w", err)
		}
	}
	defer db.Close()

	metrics := runtime.NewMetrics("tipledger")
	rtCfg := runtime.Config{
		Rent: runtime.Rent{
			LamportsPerByteYear: cfg.Rent.LamportsPerByteYear,
			ExemptionThreshold:  cfg.Rent.ExemptionThreshold,
		},
		ComputeBudget: cfg.ComputeBudget,
		Logger:        logrus.NewEntry(logger),
		Metrics:       metrics,
	}
	if path := cfg.JournalFile(); path != "" {
		j, err := journal.Open(journal.DefaultConfig(path))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		rtCfg.Journal = j
		defer func() {
			logger.WithField("receipts", j.Count()).Info("journal closed")
		}()
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler(metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
	}

	rt := runtime.New(db, rtCfg)
	if err := rt.Register(justthetip.NewProcessor(programID)); err != nil {
		return err
	}
	return NewRunner(rt, programID, out, verbose).Run(ctx, script)
}

func metricsHandler(m *runtime.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	return mux
}
