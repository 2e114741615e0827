package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/changegate/changegate/internal/audit"
	"github.com/changegate/changegate/internal/cli"
	"github.com/changegate/changegate/internal/client"
	"github.com/changegate/changegate/internal/config"
	"github.com/changegate/changegate/internal/daemon"
	"github.com/changegate/changegate/internal/engine"
	"github.com/changegate/changegate/internal/ledger"
	"github.com/changegate/changegate/internal/ledger/store/memory"
	"github.com/changegate/changegate/internal/ledger/store/postgres"
	sqlitestore "github.com/changegate/changegate/internal/ledger/store/sqlite"
	"github.com/changegate/changegate/internal/mcpserver"
	"github.com/changegate/changegate/internal/pipeline"
	"github.com/changegate/changegate/internal/risk"
	"github.com/changegate/changegate/internal/sandbox"
	"github.com/changegate/changegate/internal/scan"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		cli.RunHelp(os.Stderr)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "changegate: config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch os.Args[1] {
	case "help", "--help", "-h":
		return cli.RunHelp(os.Stdout)

	case "version", "--version":
		fmt.Println("changegate", version)
		return 0

	case "audit":
		return cli.RunAudit(os.Stdout, cfg.Audit.Path, os.Args[2:])

	case "propose":
		eng, cleanup, err := buildEngine(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "changegate: %v\n", err)
			return 1
		}
		defer cleanup()
		return cli.RunPropose(ctx, eng, os.Stdin, os.Stdout, os.Args[2:])

	case "pending":
		q, cleanup, err := queueFor(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "changegate: %v\n", err)
			return 1
		}
		defer cleanup()
		return cli.RunPending(ctx, q, os.Stdout)

	case "show":
		q, cleanup, err := queueFor(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "changegate: %v\n", err)
			return 1
		}
		defer cleanup()
		return cli.RunShow(ctx, q, os.Stdout, os.Args[2:])

	case "review":
		q, cleanup, err := queueFor(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "changegate: %v\n", err)
			return 1
		}
		defer cleanup()
		return cli.RunReview(ctx, q, os.Stdout, os.Args[2:])

	case "rollback":
		q, cleanup, err := queueFor(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "changegate: %v\n", err)
			return 1
		}
		defer cleanup()
		return cli.RunRollback(ctx, q, os.Stdout, os.Args[2:])

	case "mcp":
		eng, cleanup, err := buildEngine(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "changegate: %v\n", err)
			return 1
		}
		defer cleanup()
		if err := mcpserver.ServeStdio(mcpserver.New(eng, version)); err != nil {
			fmt.Fprintf(os.Stderr, "changegate: mcp: %v\n", err)
			return 1
		}
		return 0

	case "daemon":
		eng, cleanup, err := buildEngine(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "changegate: %v\n", err)
			return 1
		}
		defer cleanup()
		srv := daemon.New(eng, cfg.Daemon.IdleTimeoutDuration(), cfg.Daemon.Socket)
		if err := srv.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "changegate: daemon: %v\n", err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "changegate: unknown command %q\n", os.Args[1])
		cli.RunHelp(os.Stderr)
		return 1
	}
}

// buildEngine assembles the full stack from config: record store, content
// store, audit log, validation pipeline, and gate.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	store, cleanup, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	logger, err := audit.NewLogger(cfg.Audit.Path)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("audit: %w", err)
	}
	notes := engine.NewAuditNotifier(logger)

	svc := ledger.NewService(store, ledger.NewOSStore(cfg.ContentRoot), ledger.WithNotifier(notes))

	validator := pipeline.New(
		scan.New(cfg.ScannerConfig()),
		risk.New(cfg.ClassifierConfig()),
		sandbox.NewExecutor(cfg.SandboxLimits()),
	)

	eng := engine.New(svc, validator, cfg.GateConfig(),
		engine.WithSensitivity(cfg.SensitivityFor),
		engine.WithAuditNotes(notes),
	)
	return eng, cleanup, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), func() {}, nil

	case "sqlite", "":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		store := sqlitestore.New(db)
		if err := store.InitSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("init schema: %w", err)
		}
		return store, func() { db.Close() }, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store := postgres.New(db)
		if err := store.InitSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("init schema: %w", err)
		}
		return store, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// queueFor picks how review-queue commands reach the engine. Daemon enabled:
// spawn one if needed. Disabled: always in-process. Unset: use a running
// daemon if there is one, otherwise fall back to in-process.
func queueFor(ctx context.Context, cfg *config.Config) (cli.Queue, func(), error) {
	useDaemon := false
	switch {
	case cfg.Daemon.Enabled == nil:
		if conn, err := client.Connect(cfg.Daemon.Socket); err == nil {
			conn.Close()
			useDaemon = true
		}
	case *cfg.Daemon.Enabled:
		self, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve executable: %w", err)
		}
		conn, err := client.ConnectOrSpawn(ctx, self, cfg.Daemon.Socket)
		if err != nil {
			return nil, nil, err
		}
		conn.Close()
		useDaemon = true
	}

	if useDaemon {
		return client.NewQueue(cfg.Daemon.Socket), func() {}, nil
	}

	eng, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return eng, cleanup, nil
}
