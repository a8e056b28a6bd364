// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

// ConnectionState is the aggregated connectivity of the connections of a
// BaseRTPSession.
type ConnectionState int

const (
	// ConnectionStateUnknown is the enum's zero-value
	ConnectionStateUnknown ConnectionState = iota

	// ConnectionStateDisconnected indicates the session has no connection,
	// or at least one of its connections is not connected.
	ConnectionStateDisconnected

	// ConnectionStateConnected indicates every connection of the session is
	// connected.
	ConnectionStateConnected
)

// This is done this way because of a linter.
const (
	connectionStateDisconnectedStr = "disconnected"
	connectionStateConnectedStr    = "connected"
)

func newConnectionState(raw string) ConnectionState {
	switch raw {
	case connectionStateDisconnectedStr:
		return ConnectionStateDisconnected
	case connectionStateConnectedStr:
		return ConnectionStateConnected
	default:
		return ConnectionStateUnknown
	}
}

func (c ConnectionState) String() string {
	switch c {
	case ConnectionStateDisconnected:
		return connectionStateDisconnectedStr
	case ConnectionStateConnected:
		return connectionStateConnectedStr
	default:
		return unknownStr
	}
}

// MarshalText implements encoding.TextMarshaler
func (c ConnectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *ConnectionState) UnmarshalText(b []byte) error {
	*c = newConnectionState(string(b))

	return nil
}
