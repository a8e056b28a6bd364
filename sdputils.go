// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

const (
	attrKeyRTPMap      = "rtpmap"
	attrKeyFmtp        = "fmtp"
	attrKeyRTCPFb      = "rtcp-fb"
	attrKeySCTPMap     = "sctpmap"
	attrKeySCTPPort    = "sctp-port"
	attrKeyConnection  = "connection"
	attrKeyICEUfrag    = "ice-ufrag"
	attrKeyICEPwd      = "ice-pwd"
	attrKeyICEOptions  = "ice-options"
	attrKeyFingerprint = "fingerprint"

	semanticTokenBundle = "BUNDLE"
)

// Parses an rtpmap line. Sample input:
// a=rtpmap:109 opus/48000/2
func sdpParseRTPMap(value string) (RTPCodec, error) {
	sp := strings.Index(value, " ")
	if sp < 1 {
		return RTPCodec{}, fmt.Errorf("%w: too short: %s", ErrInvalidRTPMap, value)
	}

	payloadType, err := parsePayloadType(value[:sp])
	if err != nil {
		return RTPCodec{}, err
	}

	parts := strings.Split(value[sp+1:], "/")
	if len(parts) < 2 {
		return RTPCodec{}, fmt.Errorf("%w: invalid codec: %s", ErrInvalidRTPMap, value[sp+1:])
	}

	clockRate, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return RTPCodec{}, fmt.Errorf("%w: invalid clockrate: %s", ErrInvalidRTPMap, parts[1])
	}

	channels := uint64(0)
	if len(parts) == 3 {
		if channels, err = strconv.ParseUint(parts[2], 10, 16); err != nil {
			return RTPCodec{}, fmt.Errorf("%w: invalid channels: %s", ErrInvalidRTPMap, parts[2])
		}
	}

	return RTPCodec{
		PayloadType: payloadType,
		Name:        parts[0],
		ClockRate:   uint32(clockRate),
		Channels:    uint16(channels),
	}, nil
}

func parsePayloadType(s string) (uint8, error) {
	pt, err := strconv.ParseUint(s, 10, 8)
	if err != nil || pt > maxPayloadType {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPayloadType, s)
	}

	return uint8(pt), nil
}

// sdpSSRCMedia represents an RFC 5576 ssrc media attribute.
type sdpSSRCMedia struct {
	SSRC      uint32
	Attribute string
	Value     string
}

// Parses an RFC 5576 ssrc media attribute. Sample input:
// a=ssrc:<ssrc-id> <attribute>
// a=ssrc:<ssrc-id> <attribute>:<value>
func sdpParseSSRCMedia(value string) (sdpSSRCMedia, error) {
	ssrcStr, attr, _ := strings.Cut(value, " ")
	ssrc, err := strconv.ParseUint(ssrcStr, 10, 32)
	if err != nil {
		return sdpSSRCMedia{}, fmt.Errorf("%w: %s", ErrInvalidSSRCAttribute, value)
	}

	attribute, attrValue, _ := strings.Cut(attr, ":")

	return sdpSSRCMedia{
		SSRC:      uint32(ssrc),
		Attribute: attribute,
		Value:     attrValue,
	}, nil
}

// firstSSRC returns the first SSRC announced in a media description.
func firstSSRC(media *sdp.MediaDescription) (uint32, bool) {
	for _, a := range media.Attributes {
		if a.Key != sdp.AttrKeySSRC {
			continue
		}
		if s, err := sdpParseSSRCMedia(a.Value); err == nil {
			return s.SSRC, true
		}
	}

	return 0, false
}

// payloadAttributes returns the values of key whose first token is pt, as
// used by rtpmap, fmtp and rtcp-fb.
func payloadAttributes(media *sdp.MediaDescription, key, pt string) []sdp.Attribute {
	var attrs []sdp.Attribute
	for _, a := range media.Attributes {
		if a.Key != key {
			continue
		}
		if first, _, _ := strings.Cut(a.Value, " "); first == pt {
			attrs = append(attrs, a)
		}
	}

	return attrs
}

func hasAttribute(attrs []sdp.Attribute, attr sdp.Attribute) bool {
	for _, a := range attrs {
		if a.Key == attr.Key && a.Value == attr.Value {
			return true
		}
	}

	return false
}

// addAttributeOnce appends attr unless an identical key/value pair is
// already present.
func addAttributeOnce(media *sdp.MediaDescription, attr sdp.Attribute) {
	if !hasAttribute(media.Attributes, attr) {
		media.Attributes = append(media.Attributes, attr)
	}
}

func hasPropertyAttribute(media *sdp.MediaDescription, key string) bool {
	_, ok := media.Attribute(key)

	return ok
}

func mediaProtocol(media *sdp.MediaDescription) string {
	return strings.Join(media.MediaName.Protos, "/")
}

func splitProtocol(protocol string) []string {
	return strings.Split(protocol, "/")
}

func mediaMID(media *sdp.MediaDescription) string {
	mid, _ := media.Attribute(sdp.AttrKeyMID)

	return mid
}

// mediaDirection returns the direction attribute of media, sendrecv when
// absent.
func mediaDirection(media *sdp.MediaDescription) string {
	for _, a := range media.Attributes {
		if isDirectionAttribute(a.Key) {
			return a.Key
		}
	}

	return sdp.AttrKeySendRecv
}

func isDirectionAttribute(key string) bool {
	switch key {
	case sdp.AttrKeySendRecv, sdp.AttrKeySendOnly, sdp.AttrKeyRecvOnly, sdp.AttrKeyInactive:
		return true
	default:
		return false
	}
}

// reverseDirection is the direction an answer uses for an offered direction.
func reverseDirection(direction string) string {
	switch direction {
	case sdp.AttrKeySendOnly:
		return sdp.AttrKeyRecvOnly
	case sdp.AttrKeyRecvOnly:
		return sdp.AttrKeySendOnly
	case sdp.AttrKeyInactive:
		return sdp.AttrKeyInactive
	default:
		return sdp.AttrKeySendRecv
	}
}

// isMediaInactive reports whether media is rejected or explicitly inactive.
func isMediaInactive(media *sdp.MediaDescription) bool {
	return media.MediaName.Port.Value == 0 || hasPropertyAttribute(media, sdp.AttrKeyInactive)
}

// bundleGroups returns the mids of every BUNDLE group of a description, in
// attribute order.
func bundleGroups(desc *sdp.SessionDescription) [][]string {
	var groups [][]string
	for _, a := range desc.Attributes {
		if a.Key != sdp.AttrKeyGroup {
			continue
		}

		fields := strings.Fields(a.Value)
		if len(fields) == 0 || fields[0] != semanticTokenBundle {
			continue
		}
		groups = append(groups, fields[1:])
	}

	return groups
}

// copySessionDescription deep copies a description by serializing it.
func copySessionDescription(desc *sdp.SessionDescription) (*sdp.SessionDescription, error) {
	if desc == nil {
		return nil, ErrNilDescription
	}

	raw, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDescriptionCopy, err)
	}

	cp := &sdp.SessionDescription{}
	if err := cp.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDescriptionCopy, err)
	}

	return cp, nil
}
