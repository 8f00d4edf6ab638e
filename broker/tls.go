package broker

// TLSPolicy controls transport security for a broker connection.
type TLSPolicy struct {
	// Enabled forces TLS even when the URL scheme does not ask for it.
	// A rediss:// URL enables TLS regardless.
	Enabled bool

	// InsecureSkipVerify disables certificate verification. It is an
	// explicit opt-in for internal traffic; a warning is logged once when
	// the connection is made.
	InsecureSkipVerify bool
}
