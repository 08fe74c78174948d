package model

// Credentials is the decrypted, transient form of a source's or destination's
// connection settings, passed into an adapter constructor. Never persisted.
type Credentials struct {
	URL      string
	Login    string
	Password string
	APIKey   string
}
