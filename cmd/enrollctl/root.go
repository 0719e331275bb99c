package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"enrolld/internal/enrollment/committer"
	"enrolld/internal/enrollment/expiration"
	"enrolld/internal/enrollment/migrator"
	"enrolld/internal/enrollment/reconcile"
	"enrolld/internal/enrollment/requirements"
	"enrolld/internal/enrollment/service"
	"enrolld/internal/enrollment/store/committed"
	"enrolld/internal/enrollment/store/pending"
	"enrolld/internal/platform/config"
	"enrolld/internal/platform/logger"
	"enrolld/internal/platform/postgres"
	"enrolld/internal/platform/redis"
	"enrolld/pkg/requestcontext"
)

// app holds what subcommands share once configuration is loaded.
type app struct {
	out      io.Writer
	errOut   io.Writer
	cfg      config.Config
	log      *slog.Logger
	db       *sql.DB
	redis    *redis.Client
	svc      *service.Service
	resolver *requirements.Resolver
	operator string
	asJSON   bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "enrollctl",
		Short:         "Inspect and manage pending enrollment applications",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			a.close()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&a.operator, "operator", "enrollctl", "Operator label recorded on changes")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "Print JSON instead of a table")

	root.AddCommand(newPendingCmd(a), newRequirementsCmd(a))
	return root
}

// setup loads configuration from the environment and wires the service. The
// database is optional: without it, records are shown without their committed
// status and processing is unavailable.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.NewWithWriter(a.errOut, cfg.LogLevel)

	var table *requirements.Table
	if cfg.Enrollment.RulesFile != "" {
		if table, err = requirements.LoadTable(cfg.Enrollment.RulesFile); err != nil {
			return err
		}
	}
	a.resolver = requirements.NewResolver(table, requirements.WithLogger(a.log))

	storeOpts := []pending.Option{pending.WithLogger(a.log)}
	var commit service.Committer
	var catalog committer.CatalogReader
	if cfg.Postgres.URL != "" {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		a.db = db
		committedStore := committed.NewPostgres(db)
		storeOpts = append(storeOpts, pending.WithAnnotator(reconcile.New(committedStore, a.log)))
		commit = committer.New(committer.NewPostgresTx(db, cfg.Postgres.TxTimeout), committer.WithLogger(a.log))
		catalog = committedStore
	}

	// Share the server's locks so CLI edits never interleave with a running
	// processing attempt.
	var locker pending.Locker = pending.NewKeyedLocker()
	if a.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return err
	}
	if a.redis != nil {
		locker = pending.NewRedisLocker(a.redis.Client, cfg.Redis.LockTTL)
	}
	storeOpts = append(storeOpts, pending.WithLocker(locker))

	store, err := pending.New(cfg.Storage.PendingFile, storeOpts...)
	if err != nil {
		return err
	}
	files, err := migrator.New(cfg.Storage.Root, migrator.WithLogger(a.log))
	if err != nil {
		return err
	}

	a.svc = service.New(store, files, commit, catalog, a.resolver,
		expiration.New(cfg.Enrollment.GracePeriod()),
		service.WithLogger(a.log),
		service.WithRemoveOnCommit(cfg.Enrollment.RemoveOnCommit),
		service.WithLocker(locker),
	)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// context labels the command's changes with the operator.
func (a *app) context(ctx context.Context) context.Context {
	return requestcontext.WithOperator(ctx, a.operator)
}

func (a *app) requireDatabase() error {
	if a.db == nil {
		return fmt.Errorf("ENROLLD_DATABASE_URL is required for this command")
	}
	return nil
}
