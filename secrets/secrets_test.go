package secrets_test

import (
	"strings"
	"testing"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/internal/util"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	p, err := secrets.Path(secrets.CategoryDFSPJWS, "dfsp-a")
	require.NoError(t, err)
	assert.Equal(t, "dfsp-jws/dfsp-a", p)

	p, err = secrets.Path(secrets.CategoryDFSPServerCert, "env-1", "dfsp-a")
	require.NoError(t, err)
	assert.Equal(t, "dfsp-server-cert/env-1/dfsp-a", p)

	assert.Equal(t, "hub-jws/hub", secrets.MustPath(secrets.CategoryHubJWS, secrets.HubScope))

	// e + combining acute normalises to the precomposed form.
	p, err = secrets.Path(secrets.CategoryDFSPJWS, "cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "dfsp-jws/caf\u00e9", p)
}

func TestPath_InvalidComponents(t *testing.T) {
	tests := []struct {
		name  string
		scope string
	}{
		{"Empty", ""},
		{"Slash", "a/b"},
		{"Control", "a\x00b"},
		{"Dot", "."},
		{"DotDot", ".."},
		{"TooLong", strings.Repeat("x", secrets.MaxComponentLength+1)},
		{"InvalidUTF8", "\xff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := secrets.Path(secrets.CategoryDFSPJWS, tt.scope)
			assert.ErrorIs(t, err, errs.ErrInvalidEntity)
		})
	}
	assert.Panics(t, func() { secrets.MustPath(secrets.CategoryCA, "") })
}

func TestChildNames(t *testing.T) {
	keys := []string{
		"dfsp-jws/b",
		"dfsp-jws/a",
		"dfsp-server-cert/env-1/x",
		"dfsp-server-cert/env-1/y",
		"dfsp-server-cert/env-2/x",
		"dfsp-jws-other/z",
	}
	assert.Equal(t, []string{"a", "b"}, secrets.ChildNames("dfsp-jws", keys))
	assert.Equal(t, []string{"a", "b"}, secrets.ChildNames("dfsp-jws/", keys))
	assert.Equal(t, []string{"env-1", "env-2"}, secrets.ChildNames("dfsp-server-cert", keys))
	assert.Equal(t, []string{"x", "y"}, secrets.ChildNames("dfsp-server-cert/env-1", keys))
	assert.Empty(t, secrets.ChildNames("ca", keys))
	assert.Equal(t, []string{"dfsp-jws", "dfsp-jws-other", "dfsp-server-cert"}, secrets.ChildNames("", keys))
}

func TestSplitJoin(t *testing.T) {
	assert.Equal(t, []string{"dfsp-jws", "a"}, secrets.Split("/dfsp-jws/a/"))
	assert.Equal(t, "dfsp-jws/a", secrets.Join("dfsp-jws", "a"))
}

func TestSecretClone(t *testing.T) {
	s := secrets.Secret{"cert": "x"}
	c := s.Clone()
	c["cert"] = "y"
	assert.Equal(t, "x", s["cert"])
	assert.Nil(t, secrets.Secret(nil).Clone())
}

func TestEnvelope(t *testing.T) {
	key, err := util.NewAESKey()
	require.NoError(t, err)
	value := secrets.Secret{secrets.FieldCertificate: "cert-pem", secrets.FieldPrivateKey: "key-pem"}

	env, err := secrets.SealSecret(key, "ca/env-1", value)
	require.NoError(t, err)
	assert.Len(t, env.Nonce, 12)
	assert.NotContains(t, string(env.Ciphertext), "key-pem")

	got, err := secrets.OpenSecret(key, "ca/env-1", env)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	t.Run("WrongPath", func(t *testing.T) {
		_, err := secrets.OpenSecret(key, "ca/env-2", env)
		assert.Error(t, err)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := util.NewAESKey()
		require.NoError(t, err)
		_, err = secrets.OpenSecret(other, "ca/env-1", env)
		assert.Error(t, err)
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		bad := *env
		bad.Ver = 2
		_, err := secrets.OpenSecret(key, "ca/env-1", &bad)
		assert.ErrorContains(t, err, "unsupported envelope version")
	})
}
