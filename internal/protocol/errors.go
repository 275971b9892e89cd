package protocol

const (
	// Transport-level validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Engine mailbox saturated; the command was rejected, not queued.
	ErrOverloaded = "E_OVERLOADED"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrOverloaded:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
