// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mux

// MatchFunc allows custom logic for mapping packets to an Endpoint.
type MatchFunc func([]byte) bool

// MatchRange returns true if the first byte of buf is in [lower..upper].
func MatchRange(lower, upper byte) MatchFunc {
	return func(buf []byte) bool {
		if len(buf) < 1 {
			return false
		}
		b := buf[0]

		return b >= lower && b <= upper
	}
}

// MatchFuncs as described in RFC 7983
// https://tools.ietf.org/html/rfc7983
//              +----------------+
//              |        [0..3] -+--> forward to STUN
//              |                |
//              |      [16..19] -+--> forward to ZRTP
//              |                |
//  packet -->  |      [20..63] -+--> forward to DTLS
//              |                |
//              |      [64..79] -+--> forward to TURN Channel
//              |                |
//              |    [128..191] -+--> forward to RTP/RTCP
//              +----------------+

// MatchSTUN is a MatchFunc that accepts packets with the first byte in [0..3].
var MatchSTUN = MatchRange(0, 3)

// MatchDTLS is a MatchFunc that accepts packets with the first byte in [20..63].
var MatchDTLS = MatchRange(20, 63)

// MatchRTPOrRTCP is a MatchFunc that accepts packets with the first byte in [128..191].
var MatchRTPOrRTCP = MatchRange(128, 191)

// isRTCP applies the RFC 5761 section 4 rule: RTCP packet types 192..223
// collide with RTP payload types 64..95 once the marker bit is included, and
// those payload types are never used for RTP when muxing.
func isRTCP(buf []byte) bool {
	// Not long enough to determine RTP/RTCP
	if len(buf) < 4 {
		return false
	}

	return buf[1] >= 192 && buf[1] <= 223
}

// MatchRTP is a MatchFunc that only matches RTP and not RTCP.
func MatchRTP(buf []byte) bool {
	return MatchRTPOrRTCP(buf) && !isRTCP(buf)
}

// MatchRTCP is a MatchFunc that only matches RTCP and not RTP.
func MatchRTCP(buf []byte) bool {
	return MatchRTPOrRTCP(buf) && isRTCP(buf)
}

// PacketType is the result of classifying a datagram received on a muxed
// transport.
type PacketType int

const (
	// PacketTypeUnknown is the enum's zero-value.
	PacketTypeUnknown PacketType = iota
	// PacketTypeRTP is an RTP packet.
	PacketTypeRTP
	// PacketTypeRTCP is an RTCP packet.
	PacketTypeRTCP
	// PacketTypeSTUN is a STUN packet.
	PacketTypeSTUN
	// PacketTypeDTLS is a DTLS record.
	PacketTypeDTLS
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeRTP:
		return "rtp"
	case PacketTypeRTCP:
		return "rtcp"
	case PacketTypeSTUN:
		return "stun"
	case PacketTypeDTLS:
		return "dtls"
	default:
		return "unknown"
	}
}

// Classify returns the type of buf.
func Classify(buf []byte) PacketType {
	switch {
	case MatchRTCP(buf):
		return PacketTypeRTCP
	case MatchRTP(buf):
		return PacketTypeRTP
	case MatchSTUN(buf):
		return PacketTypeSTUN
	case MatchDTLS(buf):
		return PacketTypeDTLS
	default:
		return PacketTypeUnknown
	}
}
