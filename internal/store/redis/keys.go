package redis

const (
	// KeyPrefixTurns prefixes the per-session chat turn counters.
	KeyPrefixTurns = "kilomarket:chat:turns:"
	// KeyTotalTurns counts chat turns across every session.
	KeyTotalTurns = "kilomarket:chat:turns_total"
	// KeyRosterStatus holds the last published roster snapshot.
	KeyRosterStatus = "kilomarket:a2a:status"
	// ChannelRosterStatus carries every published roster snapshot.
	ChannelRosterStatus = "kilomarket:a2a:status:events"
)

// TurnsKey returns the turn counter key for a session.
func TurnsKey(sessionID string) string {
	return KeyPrefixTurns + sessionID
}
