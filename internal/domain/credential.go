package domain

// Credential identifies an authenticated account at a venue. Testnet is a
// per-credential flag surfaced on every outbound order, per spec §4.2.
type Credential struct {
	ID      string
	Venue   string
	Testnet bool
	// Fields holds venue-specific auth material (API key, secret, ...).
	// The credential store keeps these encrypted at rest; the core treats
	// them as opaque strings keyed by field name.
	Fields map[string]string
}
