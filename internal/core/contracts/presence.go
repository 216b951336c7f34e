package contracts

// PresenceReader is the read side of the online peer set.
type PresenceReader interface {
	IsOnline(peerID string) bool
	Online() []string
}
