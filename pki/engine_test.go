package pki_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/internal/testpki"
	"github.com/jmcleod/hubpki/metadata"
	metamem "github.com/jmcleod/hubpki/metadata/memory"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/pki"
	secmem "github.com/jmcleod/hubpki/secrets/memory"
	"github.com/jmcleod/hubpki/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const env = "env-1"

type harness struct {
	adapter *secmem.Adapter
	cas     *metamem.Repository[*models.CertificateAuthority]
	audit   *audit.Logger
	engine  *pki.Engine
}

func newHarness(t *testing.T, opts ...pki.Option) *harness {
	t.Helper()
	follower := &testpki.Follower{}
	h := &harness{
		adapter: secmem.New(secmem.WithSignFunc(follower.Sign), secmem.WithCAImportHook(follower.Import)),
		cas:     metamem.NewRepository[*models.CertificateAuthority](),
		audit:   audit.New(slog.New(slog.DiscardHandler)),
	}
	dir := metamem.NewDirectory(metadata.DFSP{DFSPID: "dfsp-a"}, metadata.DFSP{DFSPID: "dfsp-b"})
	opts = append([]pki.Option{
		pki.WithAudit(h.audit),
		pki.WithLogger(slog.New(slog.DiscardHandler)),
		pki.WithHubJWSKeyAlgorithm(pki.ECDSAP256),
	}, opts...)
	h.engine = pki.NewEngine(h.adapter, h.cas, dir, &metamem.SequentialIDs{}, opts...)
	return h
}

func (h *harness) createCA(t *testing.T, cn string) *models.CertificateAuthority {
	t.Helper()
	ca, err := h.engine.CreateCA(t.Context(), env, pki.CAParams{Subject: testpki.Subject(cn)})
	require.NoError(t, err)
	return ca
}

func TestSignCSR(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	ca := h.createCA(t, "Hub CA")
	caCert, err := inspect.ParseCertificate(ca.CertificatePEM)
	require.NoError(t, err)

	csrPEM, _ := testpki.NewCSR(t, testpki.Subject("dfsp-a.example"), "dfsp-a.example")

	certPEM, err := h.engine.SignCSR(ctx, csrPEM, "")
	require.NoError(t, err)
	cert, err := inspect.ParseCertificate(certPEM)
	require.NoError(t, err)
	assert.NoError(t, cert.CheckSignatureFrom(caCert))
	assert.Equal(t, "dfsp-a.example", cert.Subject.CommonName)

	t.Run("CommonNameOverride", func(t *testing.T) {
		certPEM, err := h.engine.SignCSR(ctx, csrPEM, "override")
		require.NoError(t, err)
		cert, err := inspect.ParseCertificate(certPEM)
		require.NoError(t, err)
		assert.Equal(t, "override", cert.Subject.CommonName)
	})

	t.Run("Unparsable", func(t *testing.T) {
		_, err := h.engine.SignCSR(ctx, "not a csr", "")
		assert.ErrorIs(t, err, errs.ErrParse)
	})

	t.Run("BadSignature", func(t *testing.T) {
		block, _ := pem.Decode([]byte(csrPEM))
		der := bytes.Clone(block.Bytes)
		der[len(der)-1] ^= 0xff
		tampered := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))

		_, err := h.engine.SignCSR(ctx, tampered, "")
		require.ErrorIs(t, err, errs.ErrValidation)
		var verr *validation.Error
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{validation.CSRSignatureValid}, verr.Failed())
	})

	t.Run("NoSigner", func(t *testing.T) {
		engine := pki.NewEngine(secmem.New(), h.cas, metamem.NewDirectory(), &metamem.SequentialIDs{})
		_, err := engine.SignCSR(ctx, csrPEM, "")
		assert.ErrorIs(t, err, errs.ErrSigning)
	})

	assert.Equal(t, 2, h.audit.Counts()[audit.CSRSigned])
}

func TestCreateCA(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.engine.GetCurrentCA(ctx, env)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	first := h.createCA(t, "Hub CA 1")
	assert.Equal(t, validation.StateValid, first.ValidationState)
	assert.True(t, first.Current)
	assert.NotEmpty(t, first.CSRPEM)
	assert.Equal(t, "Hub CA 1", first.CSRInfo.Subject.CN)

	second := h.createCA(t, "Hub CA 2")

	current, err := h.engine.GetCurrentCA(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	history, err := h.engine.ListCAs(ctx, env)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Current)
	assert.True(t, history[1].Current)

	stored, err := h.adapter.Get(ctx, "ca/"+env)
	require.NoError(t, err)
	assert.Equal(t, second.CertificatePEM, stored["cert"])
	assert.Contains(t, stored["key"], "PRIVATE KEY")

	t.Run("RequiresCommonName", func(t *testing.T) {
		_, err := h.engine.CreateCA(ctx, env, pki.CAParams{})
		assert.ErrorIs(t, err, errs.ErrInvalidEntity)
	})
}

func TestSetCurrentCA(t *testing.T) {
	ctx := t.Context()

	t.Run("Import", func(t *testing.T) {
		h := newHarness(t)
		ext := testpki.NewCA(t, "External CA")
		ca, err := h.engine.SetCurrentCA(ctx, env, ext.CertPEM, ext.KeyPEM)
		require.NoError(t, err)
		assert.Equal(t, validation.StateValid, ca.ValidationState)
		assert.Empty(t, ca.CSRPEM)
		assert.Equal(t, 1, h.audit.Counts()[audit.CAImported])

		// the backend signer now issues from the imported CA
		csrPEM, _ := testpki.NewCSR(t, testpki.Subject("leaf"), "leaf")
		certPEM, err := h.engine.SignCSR(ctx, csrPEM, "")
		require.NoError(t, err)
		cert, err := inspect.ParseCertificate(certPEM)
		require.NoError(t, err)
		assert.NoError(t, cert.CheckSignatureFrom(ext.Cert))
	})

	t.Run("LeafRejected", func(t *testing.T) {
		h := newHarness(t)
		ext := testpki.NewCA(t, "External CA")
		csrPEM, key := testpki.NewCSR(t, testpki.Subject("leaf"), "leaf")
		keyPEM, err := testpki.PrivateKeyPEM(key)
		require.NoError(t, err)

		_, err = h.engine.SetCurrentCA(ctx, env, ext.MustSign(t, csrPEM), keyPEM)
		require.ErrorIs(t, err, errs.ErrValidation)
		var verr *validation.Error
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Failed(), validation.CACertificateIsCA)

		assert.Zero(t, h.adapter.Len())
		history, err := h.engine.ListCAs(ctx, env)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("KeyMismatch", func(t *testing.T) {
		h := newHarness(t)
		ext := testpki.NewCA(t, "External CA")
		other := testpki.NewCA(t, "Other CA")
		_, err := h.engine.SetCurrentCA(ctx, env, ext.CertPEM, other.KeyPEM)
		assert.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("Garbage", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.SetCurrentCA(ctx, env, "nope", "nope")
		assert.ErrorIs(t, err, errs.ErrParse)
	})
}

// faultyCAs fails Insert while insertErr is set and fails the failUpdate-th
// Update call counted from the last reset.
type faultyCAs struct {
	metadata.Repository[*models.CertificateAuthority]
	insertErr  error
	updates    int
	failUpdate int
}

func (r *faultyCAs) Insert(ctx context.Context, ca *models.CertificateAuthority) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	return r.Repository.Insert(ctx, ca)
}

func (r *faultyCAs) Update(ctx context.Context, ca *models.CertificateAuthority) error {
	r.updates++
	if r.updates == r.failUpdate {
		return errors.New("metadata unavailable")
	}
	return r.Repository.Update(ctx, ca)
}

func TestSetCurrentCA_MetadataFailureKeepsPrevious(t *testing.T) {
	ctx := t.Context()

	tests := []struct {
		name   string
		arm    func(r *faultyCAs)
		reason string
	}{
		{"InsertFails", func(r *faultyCAs) { r.insertErr = errors.New("metadata unavailable") }, "recording CA"},
		{"DemoteFails", func(r *faultyCAs) { r.failUpdate = 1 }, "superseding CA"},
		{"PromoteFails", func(r *faultyCAs) { r.failUpdate = 2 }, "promoting CA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			follower := &testpki.Follower{}
			adapter := secmem.New(secmem.WithSignFunc(follower.Sign), secmem.WithCAImportHook(follower.Import))
			cas := &faultyCAs{Repository: metamem.NewRepository[*models.CertificateAuthority]()}
			dir := metamem.NewDirectory(metadata.DFSP{DFSPID: "dfsp-a"})
			engine := pki.NewEngine(adapter, cas, dir, &metamem.SequentialIDs{},
				pki.WithLogger(slog.New(slog.DiscardHandler)))

			first := testpki.NewCA(t, "First")
			_, err := engine.SetCurrentCA(ctx, env, first.CertPEM, first.KeyPEM)
			require.NoError(t, err)

			cas.updates = 0
			tt.arm(cas)
			second := testpki.NewCA(t, "Second")
			_, err = engine.SetCurrentCA(ctx, env, second.CertPEM, second.KeyPEM)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.reason)

			current, err := engine.GetCurrentCA(ctx, env)
			require.NoError(t, err)
			assert.Equal(t, first.CertPEM, current.CertificatePEM)
			history, err := engine.ListCAs(ctx, env)
			require.NoError(t, err)
			assert.Len(t, history, 1)

			stored, err := adapter.Get(ctx, "ca/"+env)
			require.NoError(t, err)
			assert.Equal(t, first.CertPEM, stored["cert"])
			assert.Equal(t, first.KeyPEM, stored["key"])

			csrPEM, _ := testpki.NewCSR(t, testpki.Subject("leaf"), "leaf")
			certPEM, err := engine.SignCSR(ctx, csrPEM, "")
			require.NoError(t, err)
			cert, err := inspect.ParseCertificate(certPEM)
			require.NoError(t, err)
			assert.NoError(t, cert.CheckSignatureFrom(first.Cert))
		})
	}
}

func TestGetCurrentCA_Ambiguous(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	require.NoError(t, h.cas.Insert(ctx, &models.CertificateAuthority{ID: "a", EnvironmentID: env, Current: true}))
	require.NoError(t, h.cas.Insert(ctx, &models.CertificateAuthority{ID: "b", EnvironmentID: env, Current: true}))

	_, err := h.engine.GetCurrentCA(ctx, env)
	assert.ErrorIs(t, err, errs.ErrInternal)
}

func TestDFSPJWSCerts(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	_, pubPEM := testpki.NewKeyPEM(t)

	_, err := h.engine.SetDFSPJWSCerts(ctx, "unknown", pubPEM)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = h.engine.GetDFSPJWSCerts(ctx, "dfsp-a")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	set, err := h.engine.SetDFSPJWSCerts(ctx, "dfsp-a", pubPEM)
	require.NoError(t, err)
	assert.Equal(t, validation.StateValid, set.ValidationState)

	got, err := h.engine.GetDFSPJWSCerts(ctx, "dfsp-a")
	require.NoError(t, err)
	assert.Equal(t, pubPEM, got.PublicKey)
	assert.Equal(t, "dfsp-a", got.DFSPID)
	assert.Equal(t, validation.StateValid, got.ValidationState)
	assert.Len(t, got.Validations, 1)

	_, otherPub := testpki.NewKeyPEM(t)
	_, err = h.engine.SetDFSPJWSCerts(ctx, "dfsp-b", otherPub)
	require.NoError(t, err)

	all, err := h.engine.ListDFSPJWSCerts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "dfsp-a", all[0].DFSPID)
	assert.Equal(t, "dfsp-b", all[1].DFSPID)

	t.Run("WeakKeyRejected", func(t *testing.T) {
		weak, err := rsa.GenerateKey(rand.Reader, 1024)
		require.NoError(t, err)
		_, err = h.engine.SetDFSPJWSCerts(ctx, "dfsp-a", testpki.PublicKeyPEM(t, weak.Public()))
		require.ErrorIs(t, err, errs.ErrValidation)

		got, err := h.engine.GetDFSPJWSCerts(ctx, "dfsp-a")
		require.NoError(t, err)
		assert.Equal(t, pubPEM, got.PublicKey)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, h.engine.DeleteDFSPJWSCerts(ctx, "dfsp-a"))
		_, err := h.engine.GetDFSPJWSCerts(ctx, "dfsp-a")
		assert.ErrorIs(t, err, errs.ErrNotFound)
		assert.ErrorIs(t, h.engine.DeleteDFSPJWSCerts(ctx, "dfsp-a"), errs.ErrNotFound)
	})
}

func TestHubJWSCerts(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.engine.GetHubJWSCerts(ctx)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	rotated, err := h.engine.RotateHubJWSCerts(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.KeyID)
	assert.Equal(t, validation.StateValid, rotated.ValidationState)

	got, err := h.engine.GetHubJWSCerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, rotated.PublicKey, got.PublicKey)
	assert.Equal(t, rotated.KeyID, got.KeyID)
	assert.NotContains(t, got.PublicKey, "PRIVATE")

	key, kid, err := h.engine.HubJWSSigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, rotated.KeyID, kid)
	pub, err := inspect.ParsePublicKey(got.PublicKey)
	require.NoError(t, err)
	assert.True(t, inspect.PublicKeyEqual(pub, key.Public()))

	t.Run("MismatchedPairRejected", func(t *testing.T) {
		priv, _ := testpki.NewKeyPEM(t)
		_, otherPub := testpki.NewKeyPEM(t)
		_, err := h.engine.RotateHubJWSCerts(ctx, &pki.KeyPair{PublicKeyPEM: otherPub, PrivateKeyPEM: priv})
		require.ErrorIs(t, err, errs.ErrValidation)

		after, err := h.engine.GetHubJWSCerts(ctx)
		require.NoError(t, err)
		assert.Equal(t, rotated.KeyID, after.KeyID)
		assert.Equal(t, 1, h.audit.Counts()[audit.JWSRotationRejected])
	})

	t.Run("Set", func(t *testing.T) {
		priv, pubPEM := testpki.NewKeyPEM(t)
		set, err := h.engine.SetHubJWSCerts(ctx, pubPEM, priv)
		require.NoError(t, err)
		assert.NotEqual(t, rotated.KeyID, set.KeyID)

		got, err := h.engine.GetHubJWSCerts(ctx)
		require.NoError(t, err)
		assert.Equal(t, pubPEM, got.PublicKey)
	})
}

func TestRotateHubJWSCerts_Concurrent(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	const n = 16
	pairs := make([]pki.KeyPair, n)
	for i := range pairs {
		priv, pub := testpki.NewKeyPEM(t)
		pairs[i] = pki.KeyPair{PublicKeyPEM: pub, PrivateKeyPEM: priv}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := range pairs {
		wg.Go(func() {
			_, err := h.engine.RotateHubJWSCerts(ctx, &pairs[i])
			errCh <- err
		})
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := h.engine.GetHubJWSCerts(ctx)
	require.NoError(t, err)
	winner := -1
	for i, p := range pairs {
		if p.PublicKeyPEM == got.PublicKey {
			winner = i
		}
	}
	require.NotEqual(t, -1, winner, "stored key is one of the rotated keys")

	key, _, err := h.engine.HubJWSSigningKey(ctx)
	require.NoError(t, err)
	pub, err := inspect.ParsePublicKey(pairs[winner].PublicKeyPEM)
	require.NoError(t, err)
	assert.True(t, inspect.PublicKeyEqual(pub, key.Public()), "private key pairs with stored public key")
	assert.Equal(t, n, h.audit.Counts()[audit.JWSRotated])
}

func TestServerCerts(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.engine.CreateHubServerCerts(ctx, env, pki.ServerCertParams{Subject: testpki.Subject("hub.example")})
	assert.ErrorIs(t, err, errs.ErrNotFound, "needs a current CA")

	ca := h.createCA(t, "Hub CA")
	created, err := h.engine.CreateHubServerCerts(ctx, env, pki.ServerCertParams{
		Subject:  testpki.Subject("hub.example"),
		DNSNames: []string{"hub.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, validation.StateValid, created.ValidationState, "%+v", created.Validations)
	assert.Equal(t, ca.CertificatePEM, created.RootCertificate)

	got, err := h.engine.GetHubServerCerts(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, created.ServerCertificate, got.ServerCertificate)
	assert.Equal(t, "hub.example", got.ServerCertificateInfo.Subject.CN)
	assert.Equal(t, validation.StateValid, got.ValidationState)

	stored, err := h.adapter.Get(ctx, "hub-server-cert/"+env)
	require.NoError(t, err)
	assert.Contains(t, stored["key"], "PRIVATE KEY")

	t.Run("DFSPStoredEvenWhenInvalid", func(t *testing.T) {
		unrelated := testpki.NewCA(t, "Unrelated")
		issuer := testpki.NewCA(t, "DFSP Issuer")
		csrPEM, _ := testpki.NewCSR(t, testpki.Subject("dfsp-a.example"), "dfsp-a.example")

		sc, err := h.engine.SetDFSPServerCerts(ctx, env, "dfsp-a", pki.ServerCertificates{
			RootCertificate:   unrelated.CertPEM,
			ServerCertificate: issuer.MustSign(t, csrPEM),
		})
		require.NoError(t, err)
		assert.Equal(t, validation.StateInvalid, sc.ValidationState)

		got, err := h.engine.GetDFSPServerCerts(ctx, env, "dfsp-a")
		require.NoError(t, err)
		assert.Equal(t, validation.StateInvalid, got.ValidationState)
		assert.Equal(t, "dfsp-a", got.DFSPID)
		assert.Equal(t, "Unrelated", got.RootCertificateInfo.Subject.CN)
	})

	t.Run("UnparsableServerCertificate", func(t *testing.T) {
		_, err := h.engine.SetDFSPServerCerts(ctx, env, "dfsp-b", pki.ServerCertificates{ServerCertificate: "junk"})
		assert.ErrorIs(t, err, errs.ErrParse)
	})

	t.Run("UnknownDFSP", func(t *testing.T) {
		_, err := h.engine.GetDFSPServerCerts(ctx, env, "nobody")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestDFSPCA(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	root := testpki.NewCA(t, "DFSP Root")

	set, err := h.engine.SetDFSPCA(ctx, "dfsp-a", root.CertPEM, "")
	require.NoError(t, err)
	assert.Equal(t, validation.StateValid, set.ValidationState)

	got, err := h.engine.GetDFSPCA(ctx, "dfsp-a")
	require.NoError(t, err)
	assert.Equal(t, root.CertPEM, got.RootCertificate)
	assert.Equal(t, "DFSP Root", got.RootCertificateInfo.Subject.CN)

	anchor, err := h.engine.DFSPAnchor(ctx, "dfsp-a")
	require.NoError(t, err)
	assert.True(t, anchor.Root.Equal(root.Cert))
	assert.Empty(t, anchor.Intermediates)
	assert.Equal(t, validation.StateValid, validation.Aggregate(anchor.Validations))

	t.Run("LeafAsRoot", func(t *testing.T) {
		csrPEM, _ := testpki.NewCSR(t, testpki.Subject("leaf"), "leaf")
		set, err := h.engine.SetDFSPCA(ctx, "dfsp-b", root.MustSign(t, csrPEM), "")
		require.NoError(t, err)
		assert.Equal(t, validation.StateInvalid, set.ValidationState)
	})

	require.NoError(t, h.engine.DeleteDFSPCA(ctx, "dfsp-a"))
	_, err = h.engine.GetDFSPCA(ctx, "dfsp-a")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSetDFSPOutboundKey(t *testing.T) {
	h := newHarness(t)
	priv, _ := testpki.NewKeyPEM(t)
	require.NoError(t, h.engine.SetDFSPOutboundKey(t.Context(), "dfsp-a", "7", priv))

	stored, err := h.adapter.Get(t.Context(), "dfsp-outbound-key/dfsp-a/7")
	require.NoError(t, err)
	assert.Equal(t, priv, stored["key"])
}

func TestKeyGenerator(t *testing.T) {
	g := pki.SoftwareKeyGenerator{}
	for _, alg := range []pki.KeyAlgorithm{pki.RSA2048, pki.ECDSAP256, pki.ECDSAP384, ""} {
		key, err := g.GenerateKey(alg)
		require.NoError(t, err, alg)

		keyPEM, err := pki.EncodePrivateKeyPEM(key)
		require.NoError(t, err)
		parsed, err := inspect.ParsePrivateKey(keyPEM)
		require.NoError(t, err)
		assert.True(t, inspect.PublicKeyEqual(key.Public(), parsed.Public()))

		pubPEM, err := pki.EncodePublicKeyPEM(key.Public())
		require.NoError(t, err)
		assert.Empty(t, validation.ValidateJWS(key.Public(), nil)[0].Reason)
		_, err = inspect.ParsePublicKey(pubPEM)
		require.NoError(t, err)
	}

	_, err := g.GenerateKey("dsa")
	assert.ErrorIs(t, err, errs.ErrInvalidEntity)

	alg, err := pki.ParseKeyAlgorithm("ECDSA-P384")
	require.NoError(t, err)
	assert.Equal(t, pki.ECDSAP384, alg)
	alg, err = pki.ParseKeyAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, pki.DefaultKeyAlgorithm, alg)
	_, err = pki.ParseKeyAlgorithm("rsa512")
	assert.ErrorIs(t, err, errs.ErrInvalidEntity)
}

func TestNewCSR(t *testing.T) {
	csrPEM, keyPEM, err := pki.NewCSR(pki.SoftwareKeyGenerator{}, pki.CSRParams{
		Subject:  testpki.Subject("outbound"),
		DNSNames: []string{"outbound"},
	})
	require.NoError(t, err)
	csr, err := inspect.ParseCSR(csrPEM)
	require.NoError(t, err)
	require.NoError(t, csr.CheckSignature())
	key, err := inspect.ParsePrivateKey(keyPEM)
	require.NoError(t, err)
	assert.True(t, inspect.PublicKeyEqual(csr.PublicKey, key.Public()))
	assert.Equal(t, validation.StateValid, validation.Aggregate(validation.ValidateCSR(csr, validation.Options{})))
	assert.Equal(t, x509.ECDSA, csr.PublicKeyAlgorithm)
}
