package messaging

import "context"

type ctxKey int

const protocolVersionKey ctxKey = iota

// WithProtocolVersion records the client's protocol version for the duration
// of a dispatch so handlers can vary payload shapes by client version.
func WithProtocolVersion(ctx context.Context, version int) context.Context {
	return context.WithValue(ctx, protocolVersionKey, version)
}

// ProtocolVersionFrom returns the active protocol version, defaulting to the
// current server-side version when none was recorded.
func ProtocolVersionFrom(ctx context.Context) int {
	if v, ok := ctx.Value(protocolVersionKey).(int); ok {
		return v
	}
	return DefaultProtocolVersion
}
