package model

// Environment selects the tax authority endpoint set
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// Valid reports whether the environment is known
func (e Environment) Valid() bool {
	return e == EnvironmentSandbox || e == EnvironmentProduction
}

// TenantSettings is the per-tenant compliance configuration. ChainHash and
// ChainRecordID always describe the most recently committed record.
type TenantSettings struct {
	TenantID    string      `json:"tenant_id"`
	Enabled     bool        `json:"enabled"`
	Environment Environment `json:"environment"`
	AutoSubmit  bool        `json:"auto_submit"`

	IssuerTaxID string `json:"issuer_tax_id"`
	IssuerName  string `json:"issuer_name"`

	CertificatePath              string `json:"certificate_path,omitempty"`
	EncryptedCertificatePassword string `json:"-"`
	AuthorityUsername            string `json:"authority_username,omitempty"`
	EncryptedAuthorityPassword   string `json:"-"`

	ChainHash     string `json:"chain_hash,omitempty"`
	ChainRecordID string `json:"chain_record_id,omitempty"`
}

// Clone returns a copy of the settings
func (s *TenantSettings) Clone() *TenantSettings {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// CheckSigning reports a configuration error when the tenant cannot sign
func (s *TenantSettings) CheckSigning() error {
	if s.CertificatePath == "" {
		return NewConfigError("certificate_path", "no certificate configured", nil)
	}
	if s.IssuerTaxID == "" {
		return NewConfigError("issuer_tax_id", "issuer tax id is not configured", nil)
	}
	return nil
}

// CheckSubmission reports a configuration error when the tenant cannot
// submit to the authority
func (s *TenantSettings) CheckSubmission() error {
	if s.AuthorityUsername == "" || s.EncryptedAuthorityPassword == "" {
		return NewConfigError("authority_credentials", "authority credentials are not configured", nil)
	}
	if !s.Environment.Valid() {
		return NewConfigError("environment", "unknown environment "+string(s.Environment), nil)
	}
	return nil
}
