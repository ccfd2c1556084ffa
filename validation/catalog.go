package validation

// Check names.
const (
	CSRSignatureValid           = "CSR_SIGNATURE_VALID"
	CSRMandatoryDN              = "CSR_MANDATORY_DISTINGUISHED_NAME"
	CSRMandatorySAN             = "CSR_MANDATORY_SUBJECT_ALTERNATIVE_NAME"
	CSRPublicKeyStrength        = "CSR_PUBLIC_KEY_STRENGTH"
	CSRCNInSAN                  = "CSR_CN_IN_SUBJECT_ALTERNATIVE_NAME"
	CertMandatoryDN             = "CERTIFICATE_MANDATORY_DISTINGUISHED_NAME"
	CertMandatorySAN            = "CERTIFICATE_MANDATORY_SUBJECT_ALTERNATIVE_NAME"
	CertKeyUsage                = "CERTIFICATE_KEY_USAGE"
	CertPublicKeyStrength       = "CERTIFICATE_PUBLIC_KEY_STRENGTH"
	CertExtKeyUsage             = "CERTIFICATE_EXTENDED_KEY_USAGE"
	CertValidity                = "CERTIFICATE_VALIDITY"
	CertSignedByCA              = "CERTIFICATE_SIGNED_BY_CA"
	CertPublicKeyMatchesCSR     = "CERTIFICATE_PUBLIC_KEY_MATCHES_CSR"
	CertPublicKeyMatchesPrivate = "CERTIFICATE_PUBLIC_KEY_MATCHES_PRIVATE_KEY"
	CACertificateIsCA           = "CA_CERTIFICATE_IS_CA"
	CACertificateSelfSigned     = "CA_CERTIFICATE_SELF_SIGNED"
	ChainLinkage                = "CHAIN_LINKAGE"
	ServerChainVerifies         = "SERVER_CERTIFICATE_CHAIN_VERIFIES"
	JWSPublicKeyValid           = "JWS_PUBLIC_KEY_VALID"
	JWSKeyPairMatches           = "JWS_KEY_PAIR_MATCHES"
)

// Check describes one entry of the catalog.
type Check struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

var catalog = []Check{
	{CSRSignatureValid, "CSR self-signature verifies against its public key", true},
	{CSRMandatoryDN, "CSR subject has CN, O, OU, C, L and ST", true},
	{CSRMandatorySAN, "CSR carries at least one subject alternative name", true},
	{CSRPublicKeyStrength, "CSR key is RSA >= 2048 bits, ECDSA >= 256 bits or Ed25519", true},
	{CSRCNInSAN, "CSR common name also appears as a DNS subject alternative name", false},
	{CertMandatoryDN, "certificate subject has CN, O, OU, C, L and ST", true},
	{CertMandatorySAN, "certificate carries at least one subject alternative name", true},
	{CertPublicKeyStrength, "certificate key is RSA >= 2048 bits, ECDSA >= 256 bits or Ed25519", true},
	{CertKeyUsage, "certificate key usage includes the bits required for its role", true},
	{CertExtKeyUsage, "certificate extended key usage includes the purposes required for its role", true},
	{CertValidity, "certificate is inside its validity window", true},
	{CertSignedByCA, "certificate signature verifies against the issuing CA", true},
	{CertPublicKeyMatchesCSR, "certificate public key equals the CSR public key", true},
	{CertPublicKeyMatchesPrivate, "certificate public key belongs to the supplied private key", true},
	{CACertificateIsCA, "CA certificate has basic constraints with CA=true", true},
	{CACertificateSelfSigned, "CA certificate is self-signed", false},
	{ChainLinkage, "each chain certificate is issued by the next one, ending at the root", true},
	{ServerChainVerifies, "server certificate chains to the root through the intermediates", true},
	{JWSPublicKeyValid, "JWS public key is RSA >= 2048 bits, ECDSA >= 256 bits or Ed25519", true},
	{JWSKeyPairMatches, "JWS private key corresponds to the public key", true},
}

var requiredByName = func() map[string]bool {
	m := make(map[string]bool, len(catalog))
	for _, c := range catalog {
		m[c.Name] = c.Required
	}
	return m
}()

// Catalog returns every known check in a stable order.
func Catalog() []Check {
	return append([]Check(nil), catalog...)
}

// IsRequired reports whether a failing check named name makes an entity
// INVALID. Unknown names are required.
func IsRequired(name string) bool {
	required, ok := requiredByName[name]
	return !ok || required
}
