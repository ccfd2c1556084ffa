package migration

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/metadata"
	metamem "github.com/jmcleod/hubpki/metadata/memory"
	"github.com/jmcleod/hubpki/secrets"
	secmem "github.com/jmcleod/hubpki/secrets/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	secrets.Store
	failOn string
}

func (s *failingStore) Set(ctx context.Context, path string, value secrets.Secret) error {
	if path == s.failOn {
		return &errs.ConnectionError{Op: "set", Err: errors.New("backend down")}
	}
	return s.Store.Set(ctx, path, value)
}

func quiet() Option { return WithLogger(slog.New(slog.DiscardHandler)) }

func seed(t *testing.T, store secrets.Store, values map[string]string) {
	t.Helper()
	for path, v := range values {
		require.NoError(t, store.Set(t.Context(), path, secrets.Secret{secrets.FieldPublicKey: v}))
	}
}

func TestMigrateSecretPaths(t *testing.T) {
	ctx := t.Context()
	store := secmem.New()
	seed(t, store, map[string]string{
		"dfsp-jws/1":      "key-a",
		"dfsp-jws/2":      "key-b",
		"dfsp-jws/3":      "orphan",
		"dfsp-jws/dfsp-c": "already migrated",
	})
	mapping := map[string]string{"1": "dfsp-a", "2": "dfsp-b", "4": "dfsp-c"}
	auditLog := audit.New(slog.New(slog.DiscardHandler))

	report, err := MigrateSecretPaths(ctx, store, "dfsp-jws", mapping, quiet(), WithAudit(auditLog))
	require.NoError(t, err)
	assert.Equal(t, Report{Category: "dfsp-jws", Copied: 2, Skipped: 1}, report)

	got, err := store.Get(ctx, "dfsp-jws/dfsp-a")
	require.NoError(t, err)
	assert.Equal(t, "key-a", got[secrets.FieldPublicKey])

	_, err = store.Get(ctx, "dfsp-jws/1")
	assert.NoError(t, err, "sources are kept")
	assert.Equal(t, 2, auditLog.Counts()[audit.SecretMigrated])

	t.Run("Rerun", func(t *testing.T) {
		report, err := MigrateSecretPaths(ctx, store, "dfsp-jws", mapping, quiet())
		require.NoError(t, err)
		assert.Equal(t, Report{Category: "dfsp-jws", Skipped: 3}, report)
	})
}

func TestMigrateSecretPaths_DestinationExists(t *testing.T) {
	ctx := t.Context()
	store := secmem.New()
	seed(t, store, map[string]string{
		"dfsp-ca/7":      "legacy",
		"dfsp-ca/dfsp-a": "newer",
	})

	report, err := MigrateSecretPaths(ctx, store, "dfsp-ca", map[string]string{"7": "dfsp-a"}, quiet())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Copied)

	got, err := store.Get(ctx, "dfsp-ca/dfsp-a")
	require.NoError(t, err)
	assert.Equal(t, "newer", got[secrets.FieldPublicKey])
}

func TestMigrateSecretPaths_Errors(t *testing.T) {
	ctx := t.Context()
	mem := secmem.New()
	seed(t, mem, map[string]string{"dfsp-jws/1": "a", "dfsp-jws/2": "b"})
	store := &failingStore{Store: mem, failOn: "dfsp-jws/dfsp-b"}

	report, err := MigrateSecretPaths(ctx, store, "dfsp-jws", map[string]string{"1": "dfsp-a", "2": "dfsp-b"}, quiet())
	require.ErrorIs(t, err, ErrMigrationFailed)
	assert.Equal(t, Report{Category: "dfsp-jws", Copied: 1, Errors: 1}, report)
}

func TestRun(t *testing.T) {
	ctx := t.Context()
	store := secmem.New()
	seed(t, store, map[string]string{
		"dfsp-jws/1":               "jws",
		"dfsp-ca/1":                "ca",
		"dfsp-server-cert/env-1/1": "server",
		"dfsp-server-cert/env-2/2": "server-b",
	})
	dir := metamem.NewDirectory(metadata.DFSP{ID: 1, DFSPID: "dfsp-a"}, metadata.DFSP{ID: 2, DFSPID: "dfsp-b"})

	version, err := LayoutVersion(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, LayoutLegacy, version)

	categories, err := DefaultCategories(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"dfsp-jws", "dfsp-ca", "dfsp-server-cert/env-1", "dfsp-server-cert/env-2"}, categories)

	reports, err := Run(ctx, store, dir, nil, quiet())
	require.NoError(t, err)
	require.Len(t, reports, 4)
	for _, r := range reports {
		assert.Equal(t, 1, r.Copied, r.Category)
	}

	for _, path := range []string{"dfsp-jws/dfsp-a", "dfsp-ca/dfsp-a", "dfsp-server-cert/env-1/dfsp-a", "dfsp-server-cert/env-2/dfsp-b"} {
		_, err := store.Get(ctx, path)
		assert.NoError(t, err, path)
	}

	version, err = LayoutVersion(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, LayoutCurrent, version)

	t.Run("Idempotent", func(t *testing.T) {
		reports, err := Run(ctx, store, dir, nil, quiet())
		require.NoError(t, err)
		for _, r := range reports {
			assert.Zero(t, r.Copied, r.Category)
			assert.Zero(t, r.Errors, r.Category)
		}
	})
}

func TestRun_FailureKeepsLegacyLayout(t *testing.T) {
	ctx := t.Context()
	mem := secmem.New()
	seed(t, mem, map[string]string{"dfsp-jws/1": "jws", "dfsp-ca/1": "ca"})
	store := &failingStore{Store: mem, failOn: "dfsp-jws/dfsp-a"}
	dir := metamem.NewDirectory(metadata.DFSP{ID: 1, DFSPID: "dfsp-a"})

	reports, err := Run(ctx, store, dir, []string{"dfsp-jws", "dfsp-ca"}, quiet())
	require.ErrorIs(t, err, ErrMigrationFailed)
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Errors)
	assert.Equal(t, 1, reports[1].Copied)

	version, err := LayoutVersion(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, LayoutLegacy, version)
}
