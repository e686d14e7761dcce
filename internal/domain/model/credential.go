package model

import "time"

// CredentialKey addresses one credential record.
type CredentialKey struct {
	VendorID string
	Scope    Scope
}

// String renders the key for logs and lock names.
func (k CredentialKey) String() string {
	return k.VendorID + "@" + k.Scope.String()
}

// StoredCredential is a credential record as persisted. Sensitive values in
// Fields are encoded EncryptedEnvelope strings; other values are plain text.
type StoredCredential struct {
	Key       CredentialKey
	Fields    map[string]string
	UpdatedAt time.Time
}

// CredentialRecord is a decrypted credential set ready for use by a handler.
// Scope is the scope the record was actually read from, which differs from
// the requested scope when a shared vendor falls back to the admin record.
type CredentialRecord struct {
	VendorID  string
	Scope     Scope
	Fields    map[string]string
	UpdatedAt time.Time
}

// VendorStatus summarises whether a vendor is configured for a scope without
// exposing any credential values.
type VendorStatus struct {
	VendorID    string
	DisplayName string
	Shared      bool
	Configured  bool
	Complete    bool
	// Source is the scope the credential would be read from; zero when not
	// configured.
	Source    Scope
	Missing   []string
	UpdatedAt time.Time
}
