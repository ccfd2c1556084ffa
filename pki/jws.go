package pki

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/internal/uuid"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/jmcleod/hubpki/validation"
)

// KeyPair is a PEM encoded JWS key pair.
type KeyPair struct {
	PublicKeyPEM  string
	PrivateKeyPEM string
}

func hubJWSPath() string {
	return secrets.MustPath(secrets.CategoryHubJWS, secrets.HubScope)
}

// GetDFSPJWSCerts returns the JWS verification key of dfspID.
func (e *Engine) GetDFSPJWSCerts(ctx context.Context, dfspID string) (*models.JWSCertificate, error) {
	if _, err := e.resolveDFSP(ctx, dfspID); err != nil {
		return nil, err
	}
	path, err := secrets.Path(secrets.CategoryDFSPJWS, dfspID)
	if err != nil {
		return nil, err
	}
	s, err := e.adapter.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("DFSP %q JWS key: %w", dfspID, err)
	}
	return jwsFromSecret(dfspID, s)
}

// SetDFSPJWSCerts replaces the JWS verification key of dfspID. An INVALID
// key is rejected with a *validation.Error.
func (e *Engine) SetDFSPJWSCerts(ctx context.Context, dfspID, publicKeyPEM string) (*models.JWSCertificate, error) {
	if _, err := e.resolveDFSP(ctx, dfspID); err != nil {
		return nil, err
	}
	path, err := secrets.Path(secrets.CategoryDFSPJWS, dfspID)
	if err != nil {
		return nil, err
	}
	pub, err := inspect.ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	jws := &models.JWSCertificate{
		DFSPID:    dfspID,
		PublicKey: publicKeyPEM,
		CreatedAt: e.Now(),
	}
	jws.SetValidations(validation.ValidateJWS(pub, nil))
	if jws.ValidationState == validation.StateInvalid {
		return nil, validation.NewError("DFSP JWS key is invalid", jws.Validations)
	}

	s, err := jwsSecret(jws, "")
	if err != nil {
		return nil, err
	}
	if err := e.adapter.Set(ctx, path, s); err != nil {
		return nil, fmt.Errorf("storing DFSP %q JWS key: %w", dfspID, err)
	}
	e.audit.Log(ctx, audit.JWSSet, slog.String("dfsp_id", dfspID))
	return jws, nil
}

// DeleteDFSPJWSCerts removes the JWS verification key of dfspID.
func (e *Engine) DeleteDFSPJWSCerts(ctx context.Context, dfspID string) error {
	if _, err := e.resolveDFSP(ctx, dfspID); err != nil {
		return err
	}
	path, err := secrets.Path(secrets.CategoryDFSPJWS, dfspID)
	if err != nil {
		return err
	}
	if err := e.adapter.Delete(ctx, path); err != nil {
		return fmt.Errorf("deleting DFSP %q JWS key: %w", dfspID, err)
	}
	e.audit.Log(ctx, audit.JWSDeleted, slog.String("dfsp_id", dfspID))
	return nil
}

// ListDFSPJWSCerts returns every stored DFSP JWS key ordered by DFSP id.
func (e *Engine) ListDFSPJWSCerts(ctx context.Context) ([]*models.JWSCertificate, error) {
	names, err := e.adapter.List(ctx, string(secrets.CategoryDFSPJWS))
	if err != nil {
		return nil, fmt.Errorf("listing DFSP JWS keys: %w", err)
	}
	out := make([]*models.JWSCertificate, 0, len(names))
	for _, dfspID := range names {
		s, err := e.adapter.Get(ctx, secrets.Join(string(secrets.CategoryDFSPJWS), dfspID))
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("DFSP %q JWS key: %w", dfspID, err)
		}
		jws, err := jwsFromSecret(dfspID, s)
		if err != nil {
			return nil, err
		}
		out = append(out, jws)
	}
	return out, nil
}

// GetHubJWSCerts returns the hub JWS public key. The private key is never
// part of the result.
func (e *Engine) GetHubJWSCerts(ctx context.Context) (*models.JWSCertificate, error) {
	s, err := e.adapter.Get(ctx, hubJWSPath())
	if err != nil {
		return nil, fmt.Errorf("hub JWS key: %w", err)
	}
	return jwsFromSecret("", s)
}

// SetHubJWSCerts stores a hub JWS key pair after validating it.
func (e *Engine) SetHubJWSCerts(ctx context.Context, publicKeyPEM, privateKeyPEM string) (*models.JWSCertificate, error) {
	jws, err := e.writeHubJWS(ctx, KeyPair{PublicKeyPEM: publicKeyPEM, PrivateKeyPEM: privateKeyPEM})
	if err != nil {
		return nil, err
	}
	e.audit.Log(ctx, audit.JWSSet, slog.String("dfsp_id", secrets.HubScope), slog.String("kid", jws.KeyID))
	return jws, nil
}

// RotateHubJWSCerts replaces the hub JWS key pair with kp, or with a newly
// generated pair when kp is nil. The pair is written as a single secret so
// readers see either the old or the new pair. A rejected rotation leaves
// the previous pair in place.
func (e *Engine) RotateHubJWSCerts(ctx context.Context, kp *KeyPair) (*models.JWSCertificate, error) {
	if kp == nil {
		generated, err := e.generateKeyPair()
		if err != nil {
			return nil, err
		}
		kp = generated
	}
	jws, err := e.writeHubJWS(ctx, *kp)
	if err != nil {
		e.audit.Failure(ctx, audit.JWSRotationRejected, err.Error())
		return nil, err
	}
	e.audit.Log(ctx, audit.JWSRotated, slog.String("kid", jws.KeyID))
	return jws, nil
}

// HubJWSSigningKey returns the hub JWS private key and its key id for
// message signing.
func (e *Engine) HubJWSSigningKey(ctx context.Context) (crypto.Signer, string, error) {
	s, err := e.adapter.Get(ctx, hubJWSPath())
	if err != nil {
		return nil, "", fmt.Errorf("hub JWS key: %w", err)
	}
	key, err := inspect.ParsePrivateKey(s[secrets.FieldPrivateKey])
	if err != nil {
		return nil, "", errs.Internalf("stored hub JWS private key: %v", err)
	}
	return key, s[secrets.FieldKeyID], nil
}

func (e *Engine) generateKeyPair() (*KeyPair, error) {
	key, err := e.keys.GenerateKey(e.hubJWSAlg)
	if err != nil {
		return nil, fmt.Errorf("generating JWS key: %w", err)
	}
	privPEM, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	pubPEM, err := EncodePublicKeyPEM(key.Public())
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKeyPEM: pubPEM, PrivateKeyPEM: privPEM}, nil
}

func (e *Engine) writeHubJWS(ctx context.Context, kp KeyPair) (*models.JWSCertificate, error) {
	pub, err := inspect.ParsePublicKey(kp.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	priv, err := inspect.ParsePrivateKey(kp.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	jws := &models.JWSCertificate{
		PublicKey: kp.PublicKeyPEM,
		KeyID:     uuid.New(),
		CreatedAt: e.Now(),
	}
	jws.SetValidations(validation.ValidateJWS(pub, priv))
	if jws.ValidationState != validation.StateValid {
		return nil, validation.NewError("hub JWS key pair is not valid", jws.Validations)
	}

	s, err := jwsSecret(jws, kp.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	if err := e.adapter.Set(ctx, hubJWSPath(), s); err != nil {
		return nil, fmt.Errorf("storing hub JWS key: %w", err)
	}
	return jws, nil
}

func jwsSecret(jws *models.JWSCertificate, privateKeyPEM string) (secrets.Secret, error) {
	meta, err := encodeMeta(entityMeta{Validated: jws.Validated, CreatedAt: jws.CreatedAt})
	if err != nil {
		return nil, err
	}
	s := secrets.Secret{
		secrets.FieldPublicKey: jws.PublicKey,
		secrets.FieldMetadata:  meta,
	}
	if jws.KeyID != "" {
		s[secrets.FieldKeyID] = jws.KeyID
	}
	if privateKeyPEM != "" {
		s[secrets.FieldPrivateKey] = privateKeyPEM
	}
	return s, nil
}

func jwsFromSecret(dfspID string, s secrets.Secret) (*models.JWSCertificate, error) {
	var meta entityMeta
	if err := decodeMeta(s, &meta); err != nil {
		return nil, err
	}
	jws := &models.JWSCertificate{
		DFSPID:    dfspID,
		PublicKey: s[secrets.FieldPublicKey],
		KeyID:     s[secrets.FieldKeyID],
		CreatedAt: meta.CreatedAt,
	}
	jws.SetValidations(meta.Validations)
	return jws, nil
}
