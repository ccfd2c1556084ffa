// Package migration moves DFSP secrets from the legacy layout, keyed by the
// numeric DFSP key, to paths keyed by the DFSP identifier.
//
// Migration copies and never deletes: the legacy secret stays in place so a
// rollback to the previous release keeps working. Runs are idempotent; a
// destination that already exists is skipped.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/metadata"
	"github.com/jmcleod/hubpki/secrets"
)

// ErrMigrationFailed is returned when at least one secret could not be
// copied.
var ErrMigrationFailed = errors.New("secret path migration failed")

// Layout versions recorded under LayoutPath.
const (
	LayoutLegacy  = "1"
	LayoutCurrent = "2"
)

// LayoutPath is where the secret layout version is recorded.
var LayoutPath = secrets.MustPath(secrets.CategoryMeta, "secret-layout")

var numericKey = regexp.MustCompile(`^[0-9]+$`)

// Report summarises the migration of one category.
type Report struct {
	Category string `json:"category"`
	Copied   int    `json:"copied"`
	Skipped  int    `json:"skipped"`
	Errors   int    `json:"errors"`
}

type options struct {
	logger *slog.Logger
	audit  *audit.Logger
}

// Option configures a migration run.
type Option func(*options)

// WithLogger sets the logger for progress and warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAudit records an audit event for every copied secret.
func WithAudit(a *audit.Logger) Option {
	return func(o *options) { o.audit = a }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "migration")
	return o
}

// MigrateSecretPaths copies every secret directly below category whose name
// is a numeric DFSP key to the path named by mapping[key]. Keys without a
// mapping and destinations that already hold a secret are skipped with a
// warning. When any copy fails the report is returned together with an
// error matching ErrMigrationFailed.
func MigrateSecretPaths(ctx context.Context, store secrets.Store, category string, mapping map[string]string, opts ...Option) (Report, error) {
	o := buildOptions(opts)
	log := o.logger.With(slog.String("category", category))
	report := Report{Category: category}

	names, err := store.List(ctx, category)
	if err != nil {
		return report, fmt.Errorf("listing %s: %w", category, err)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !numericKey.MatchString(name) {
			continue
		}
		dfspID, ok := mapping[name]
		if !ok || dfspID == "" {
			log.WarnContext(ctx, "no DFSP for legacy key, skipping", slog.String("key", name))
			report.Skipped++
			continue
		}
		src := secrets.Join(category, name)
		dst := secrets.Join(category, dfspID)

		copied, err := copySecret(ctx, store, src, dst)
		switch {
		case err != nil:
			log.ErrorContext(ctx, "copying secret failed",
				slog.String("from", src), slog.String("to", dst), slog.Any("error", err))
			report.Errors++
		case !copied:
			log.WarnContext(ctx, "destination exists, skipping", slog.String("from", src), slog.String("to", dst))
			report.Skipped++
		default:
			log.InfoContext(ctx, "secret copied", slog.String("from", src), slog.String("to", dst))
			o.audit.Log(ctx, audit.SecretMigrated, slog.String("from", src), slog.String("to", dst))
			report.Copied++
		}
	}

	if report.Errors > 0 {
		return report, fmt.Errorf("%w: %s: %d of %d secrets failed", ErrMigrationFailed, category, report.Errors, len(names))
	}
	return report, nil
}

func copySecret(ctx context.Context, store secrets.Store, src, dst string) (bool, error) {
	_, err := store.Get(ctx, dst)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return false, fmt.Errorf("checking %s: %w", dst, err)
	}
	value, err := store.Get(ctx, src)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", src, err)
	}
	if err := store.Set(ctx, dst, value); err != nil {
		return false, fmt.Errorf("writing %s: %w", dst, err)
	}
	return true, nil
}

// DefaultCategories returns the categories holding per-DFSP secrets:
// dfsp-jws, dfsp-ca and dfsp-server-cert/<env> for every environment
// present in store.
func DefaultCategories(ctx context.Context, store secrets.Store) ([]string, error) {
	out := []string{string(secrets.CategoryDFSPJWS), string(secrets.CategoryDFSPCA)}
	envs, err := store.List(ctx, string(secrets.CategoryDFSPServerCert))
	if err != nil {
		return nil, fmt.Errorf("listing server certificate environments: %w", err)
	}
	for _, env := range envs {
		out = append(out, secrets.Join(string(secrets.CategoryDFSPServerCert), env))
	}
	return out, nil
}

// Run migrates every category using the numeric key mapping of directory.
// When categories is empty DefaultCategories is used. The layout version is
// raised to LayoutCurrent only when every category succeeds.
func Run(ctx context.Context, store secrets.Store, directory metadata.DFSPDirectory, categories []string, opts ...Option) ([]Report, error) {
	o := buildOptions(opts)
	mapping, err := directory.IDMapping(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading DFSP mapping: %w", err)
	}
	if len(categories) == 0 {
		if categories, err = DefaultCategories(ctx, store); err != nil {
			return nil, err
		}
	}

	var (
		reports []Report
		failed  []error
	)
	for _, category := range categories {
		report, err := MigrateSecretPaths(ctx, store, category, mapping, opts...)
		reports = append(reports, report)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return reports, ctxErr
			}
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return reports, errors.Join(failed...)
	}

	if err := store.Set(ctx, LayoutPath, secrets.Secret{secrets.FieldVersion: LayoutCurrent}); err != nil {
		return reports, fmt.Errorf("recording layout version: %w", err)
	}
	o.logger.InfoContext(ctx, "secret layout migrated", slog.String("version", LayoutCurrent))
	return reports, nil
}

// LayoutVersion returns the recorded secret layout version, LayoutLegacy
// when none is recorded.
func LayoutVersion(ctx context.Context, store secrets.Store) (string, error) {
	s, err := store.Get(ctx, LayoutPath)
	if errors.Is(err, errs.ErrNotFound) {
		return LayoutLegacy, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading layout version: %w", err)
	}
	if v := s[secrets.FieldVersion]; v != "" {
		return v, nil
	}
	return LayoutLegacy, nil
}
