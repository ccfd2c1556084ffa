package vault

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/internal/testpki"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVault serves the subset of the Vault HTTP API the adapter uses.
type fakeVault struct {
	mu       sync.Mutex
	token    string
	kv       map[string]map[string]any
	failures []int
	requests int
	ca       *testpki.CA

	importedBundle string
	signPath       string
	signData       map[string]any
}

func newFakeVault(t *testing.T) (*fakeVault, *httptest.Server) {
	t.Helper()
	f := &fakeVault{
		token: "root-token",
		kv:    make(map[string]map[string]any),
		ca:    testpki.NewCA(t, "Vault CA"),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeVault) failNext(codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, codes...)
}

func (f *fakeVault) snapshot() (signPath string, signData map[string]any, bundle string, kv map[string]map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signPath, f.signData, f.importedBundle, f.kv
}

func (f *fakeVault) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	if len(f.failures) > 0 {
		code := f.failures[0]
		f.failures = f.failures[1:]
		writeJSON(w, code, map[string]any{"errors": []string{"injected failure"}})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if path == "auth/approle/login" {
		if body["role_id"] != "role" || body["secret_id"] != "secret" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"invalid role or secret ID"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"auth": map[string]any{"client_token": f.token}})
		return
	}
	if r.Header.Get("X-Vault-Token") != f.token {
		writeJSON(w, http.StatusForbidden, map[string]any{"errors": []string{"permission denied"}})
		return
	}

	switch {
	case strings.HasPrefix(path, "secret/data/"):
		key := strings.TrimPrefix(path, "secret/data/")
		switch r.Method {
		case http.MethodGet:
			data, ok := f.kv[key]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"data":     data,
				"metadata": map[string]any{"version": 1},
			}})
		case http.MethodPut, http.MethodPost:
			data, _ := body["data"].(map[string]any)
			f.kv[key] = data
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"version": 1}})
		}

	case strings.HasPrefix(path, "secret/metadata"):
		key := strings.Trim(strings.TrimPrefix(path, "secret/metadata"), "/")
		if r.Method == "LIST" || r.URL.Query().Get("list") == "true" {
			f.list(w, key)
			return
		}
		if r.Method == http.MethodDelete {
			delete(f.kv, key)
			w.WriteHeader(http.StatusNoContent)
		}

	case path == "pki/config/ca":
		f.importedBundle, _ = body["pem_bundle"].(string)
		w.WriteHeader(http.StatusNoContent)

	case strings.HasPrefix(path, "pki/sign"):
		f.signPath = path
		f.signData = body
		csrPEM, _ := body["csr"].(string)
		cn, _ := body["common_name"].(string)
		certPEM, err := f.ca.SignCSR(csrPEM, cn)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{err.Error()}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"certificate":   certPEM,
			"issuing_ca":    f.ca.CertPEM,
			"ca_chain":      []string{f.ca.CertPEM},
			"serial_number": "01:02",
			"expiration":    1700000000,
		}})

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
	}
}

func (f *fakeVault) list(w http.ResponseWriter, key string) {
	prefix := key
	if prefix != "" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var keys []string
	for k := range f.kv {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i+1]
		}
		if !seen[rest] {
			seen[rest] = true
			keys = append(keys, rest)
		}
	}
	if len(keys) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"keys": keys}})
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  2 * time.Second,
		MaxRetries:      2,
	}
}

func connect(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a := New(cfg)
	require.NoError(t, a.Connect(t.Context()))
	t.Cleanup(func() { _ = a.Disconnect(t.Context()) })
	return a
}

func TestAdapter_CRUD(t *testing.T) {
	f, srv := newFakeVault(t)
	a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})
	ctx := t.Context()

	_, err := a.Get(ctx, "dfsp-jws/a")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, a.Set(ctx, "dfsp-jws/a", secrets.Secret{"publicKey": "pk-a"}))
	require.NoError(t, a.Set(ctx, "dfsp-jws/b", secrets.Secret{"publicKey": "pk-b"}))
	require.NoError(t, a.Set(ctx, "dfsp-server-cert/env-1/a", secrets.Secret{"cert": "c"}))

	got, err := a.Get(ctx, "dfsp-jws/a")
	require.NoError(t, err)
	assert.Equal(t, secrets.Secret{"publicKey": "pk-a"}, got)

	names, err := a.List(ctx, "dfsp-jws")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	names, err = a.List(ctx, "dfsp-server-cert")
	require.NoError(t, err)
	assert.Equal(t, []string{"env-1"}, names)

	names, err = a.List(ctx, "ca")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, a.Delete(ctx, "dfsp-jws/a"))
	assert.ErrorIs(t, a.Delete(ctx, "dfsp-jws/a"), errs.ErrNotFound)
}

func TestAdapter_NumericValuesDecodeAsStrings(t *testing.T) {
	f, srv := newFakeVault(t)
	f.kv["_meta/secret-layout"] = map[string]any{"version": 2}
	a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})

	got, err := a.Get(t.Context(), "_meta/secret-layout")
	require.NoError(t, err)
	assert.Equal(t, "2", got["version"])
}

func TestAdapter_AppRole(t *testing.T) {
	f, srv := newFakeVault(t)
	a := connect(t, Config{Address: srv.URL, RoleID: "role", SecretID: "secret", Retry: fastRetry()})
	require.NoError(t, a.Set(t.Context(), "ca/env-1", secrets.Secret{"cert": "x"}))
	_, _, _, kv := f.snapshot()
	assert.Contains(t, kv, "ca/env-1")

	bad := New(Config{Address: srv.URL, RoleID: "role", SecretID: "nope", Retry: fastRetry()})
	assert.Error(t, bad.Connect(t.Context()))

	assert.Error(t, New(Config{Address: srv.URL}).Connect(t.Context()))
}

func TestAdapter_Disconnected(t *testing.T) {
	f, srv := newFakeVault(t)
	a := New(Config{Address: srv.URL, Token: f.token})
	_, err := a.Get(t.Context(), "ca/env-1")
	assert.ErrorIs(t, err, errs.ErrConnection)

	require.NoError(t, a.Connect(t.Context()))
	require.NoError(t, a.Connect(t.Context()))
	require.NoError(t, a.Disconnect(t.Context()))
	require.NoError(t, a.Disconnect(t.Context()))
	assert.ErrorIs(t, a.Set(t.Context(), "ca/env-1", secrets.Secret{}), errs.ErrConnection)
}

func TestAdapter_Retry(t *testing.T) {
	t.Run("TransientThenSuccess", func(t *testing.T) {
		f, srv := newFakeVault(t)
		a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})
		f.failNext(http.StatusServiceUnavailable, http.StatusTooManyRequests)
		before := f.requestCount()

		require.NoError(t, a.Set(t.Context(), "ca/env-1", secrets.Secret{"cert": "x"}))
		assert.Equal(t, 3, f.requestCount()-before)
	})

	t.Run("PermanentNotRetried", func(t *testing.T) {
		f, srv := newFakeVault(t)
		a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})
		f.failNext(http.StatusBadRequest)
		before := f.requestCount()

		err := a.Set(t.Context(), "ca/env-1", secrets.Secret{"cert": "x"})
		assert.ErrorIs(t, err, errs.ErrWrite)
		assert.NotErrorIs(t, err, errs.ErrConnection)
		assert.Equal(t, 1, f.requestCount()-before)
	})

	t.Run("Exhausted", func(t *testing.T) {
		f, srv := newFakeVault(t)
		a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})
		f.failNext(http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)
		before := f.requestCount()

		_, err := a.Get(t.Context(), "ca/env-1")
		var connErr *errs.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "get", connErr.Op)
		assert.Equal(t, 3, f.requestCount()-before)
	})

	t.Run("ConnectionRefused", func(t *testing.T) {
		f, srv := newFakeVault(t)
		a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})
		srv.Close()

		_, err := a.List(t.Context(), "dfsp-jws")
		assert.ErrorIs(t, err, errs.ErrConnection)
	})
}

func TestIsTransient(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
		http.StatusBadRequest:          false,
		http.StatusForbidden:           false,
		http.StatusNotFound:            false,
	} {
		assert.Equal(t, want, IsTransient(&api.ResponseError{StatusCode: code}), "status %d", code)
	}
	assert.False(t, IsTransient(nil))
}

func TestAdapter_Sign(t *testing.T) {
	f, srv := newFakeVault(t)
	csrPEM, _ := testpki.NewCSR(t, testpki.Subject("dfsp-a"), "dfsp-a.example")

	t.Run("Verbatim", func(t *testing.T) {
		a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})
		certPEM, err := a.Sign(t.Context(), csrPEM, "")
		require.NoError(t, err)
		cert, err := inspect.ParseCertificate(certPEM)
		require.NoError(t, err)
		assert.Equal(t, "dfsp-a", cert.Subject.CommonName)
		path, data, _, _ := f.snapshot()
		assert.Equal(t, "pki/sign-verbatim", path)
		assert.NotContains(t, data, "common_name")
	})

	t.Run("RoleWithCommonName", func(t *testing.T) {
		a := connect(t, Config{Address: srv.URL, Token: f.token, PKIRole: "hub", Retry: fastRetry()})
		certPEM, err := a.Sign(t.Context(), csrPEM, "override")
		require.NoError(t, err)
		cert, err := inspect.ParseCertificate(certPEM)
		require.NoError(t, err)
		assert.Equal(t, "override", cert.Subject.CommonName)
		path, _, _, _ := f.snapshot()
		assert.Equal(t, "pki/sign/hub", path)
	})

	t.Run("Rejected", func(t *testing.T) {
		a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})
		_, err := a.Sign(t.Context(), "not a csr", "")
		assert.ErrorIs(t, err, errs.ErrSigning)
	})
}

func TestAdapter_ImportCA(t *testing.T) {
	f, srv := newFakeVault(t)
	a := connect(t, Config{Address: srv.URL, Token: f.token, Retry: fastRetry()})

	require.NoError(t, a.ImportCA(t.Context(), f.ca.CertPEM, f.ca.KeyPEM))
	_, _, bundle, _ := f.snapshot()
	assert.Contains(t, bundle, "BEGIN CERTIFICATE")
	assert.Contains(t, bundle, "BEGIN EC PRIVATE KEY")
}
