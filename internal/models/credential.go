package models

// Credential is a tenant-owned, platform-scoped secret bundle. The automation
// layer only ever holds it in memory for the duration of a login attempt.
type Credential struct {
	Tenant     string `toml:"tenant" json:"-"`
	Platform   string `toml:"platform" json:"-"`
	Identifier string `toml:"identifier" json:"-"`
	Secret     string `toml:"secret" json:"-"`
	PIN        string `toml:"pin" json:"-"` // Optional supplementary PIN
}

// HasPIN reports whether a supplementary PIN is present
func (c *Credential) HasPIN() bool {
	return c.PIN != ""
}
