package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hubpki/config"
	"github.com/jmcleod/hubpki/enrollment"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/metadata"
	metamem "github.com/jmcleod/hubpki/metadata/memory"
	"github.com/jmcleod/hubpki/metadata/postgres"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/pki"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/jmcleod/hubpki/secrets/local"
	secmem "github.com/jmcleod/hubpki/secrets/memory"
	"github.com/jmcleod/hubpki/secrets/vault"
)

// kindCA is the metadata record kind of CA rows.
const kindCA = "certificate-authority"

// app is the wired service graph for one command invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	audit     *audit.Logger
	store     secrets.Adapter
	directory metadata.DFSPDirectory
	engine    *pki.Engine
	enroll    *enrollment.Service

	closers []func(context.Context)
}

// loadConfig reads the configuration and applies the persistent flag
// overrides.
func loadConfig() (*config.Config, *slog.Logger, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, config.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

func newAdapter(cfg *config.Config, logger *slog.Logger) secrets.Adapter {
	switch cfg.Backend {
	case config.BackendLocal:
		return local.New(cfg.Local.AdapterConfig(cfg.Environment), cfg.Local.CommandSigner(), local.WithLogger(logger))
	case config.BackendVault:
		return vault.New(cfg.Vault.AdapterConfig(), vault.WithLogger(logger))
	default:
		logger.Warn("using the in-memory secret store, nothing is persisted")
		return secmem.New()
	}
}

// newApp connects the secret store and the metadata store and wires the
// engine and enrollment service. The caller must Close the result.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, audit: audit.New(logger)}

	a.store = newAdapter(cfg, logger)
	if err := a.store.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting %s secret store: %w", cfg.Backend, err)
	}
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := a.store.Disconnect(ctx); err != nil {
			logger.Warn("disconnecting secret store", slog.Any("error", err))
		}
	})

	if cfg.Backend == config.BackendLocal && len(cfg.Local.SignerCommand) > 0 {
		if vc, ok := a.store.(secrets.VersionChecker); ok {
			if err := vc.CheckVersion(ctx); err != nil {
				a.Close(ctx)
				return nil, fmt.Errorf("CA executable version check: %w", err)
			}
		}
	}

	var (
		cas      metadata.Repository[*models.CertificateAuthority]
		inbound  metadata.Repository[*models.InboundEnrollment]
		outbound metadata.Repository[*models.OutboundEnrollment]
		ids      metadata.IDGenerator
	)
	if cfg.DatabaseDSN != "" {
		db, err := postgres.NewStoreFromDSN(ctx, cfg.DatabaseDSN)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) { db.Close() })
		cas = postgres.NewRepository[*models.CertificateAuthority](db, kindCA)
		inbound = postgres.NewRepository[*models.InboundEnrollment](db, enrollment.KindInbound)
		outbound = postgres.NewRepository[*models.OutboundEnrollment](db, enrollment.KindOutbound)
		ids = postgres.NewSequenceIDs(db)
		dir := postgres.NewDirectory(db)
		for _, id := range cfg.DFSPs {
			if _, err := dir.Add(ctx, id, id); err != nil {
				a.Close(ctx)
				return nil, fmt.Errorf("registering dfsp %s: %w", id, err)
			}
		}
		a.directory = dir
	} else {
		cas = metamem.NewRepository[*models.CertificateAuthority]()
		inbound = metamem.NewRepository[*models.InboundEnrollment]()
		outbound = metamem.NewRepository[*models.OutboundEnrollment]()
		ids = &metamem.SequentialIDs{}
		dir := metamem.NewDirectory()
		for _, id := range cfg.DFSPs {
			dir.Add(metadata.DFSP{DFSPID: id, Name: id})
		}
		a.directory = dir
	}

	a.engine = pki.NewEngine(a.store, cas, a.directory, ids,
		pki.WithLogger(logger),
		pki.WithAudit(a.audit),
		pki.WithHubJWSKeyAlgorithm(cfg.KeyAlgorithm()),
	)
	a.enroll = enrollment.NewService(a.engine, inbound, outbound, a.directory, ids,
		enrollment.WithLogger(logger),
		enrollment.WithEnvironment(cfg.Environment),
		enrollment.WithEmailRequired(cfg.EmailRequired),
	)
	return a, nil
}

// Close releases the stores in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

// withApp runs fn against a freshly wired app.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(ctx))
		return fn(cmd, args, a)
	}
}

var errValidationFailed = errors.New("validation failed")
