// internal/relay/ws_codes.go
package relay

// Custom WebSocket close codes used by the relay.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Token was invalid or expired.
	InvalidTopicError     = 3003 // Topic is not a room topic.
)

// Subprotocol is the websocket subprotocol relay clients must speak.
const Subprotocol = "drawguess"
