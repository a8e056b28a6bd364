// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"github.com/pion/sdp/v3"
)

// Transport protocols of the m-lines built by the default handlers.
const (
	ProtocolRTPAVP         = "RTP/AVP"
	ProtocolRTPAVPF        = "RTP/AVPF"
	ProtocolRTPSAVPF       = "RTP/SAVPF"
	ProtocolUDPTLSRTPSAVPF = "UDP/TLS/RTP/SAVPF"
	ProtocolDTLSSCTP       = "DTLS/SCTP"
	ProtocolUDPDTLSSCTP    = "UDP/DTLS/SCTP"
)

const (
	// placeholder port of offered and accepted m-lines, the real transport
	// address is negotiated out of band
	mediaPortPlaceholder = 9
	mediaPortRejected    = 0
)

// MediaHandler builds the m-lines of one transport protocol. A handler is
// registered in an SDPAgent for each media type it serves.
type MediaHandler interface {
	// Protocol is the m-line protocol the handler produces and accepts,
	// e.g. "RTP/AVP".
	Protocol() string

	// CreateOffer builds an m-line offering mediaType.
	CreateOffer(mediaType string) (*sdp.MediaDescription, error)

	// CreateAnswer builds the answer to one offered m-line. The offer is not
	// modified.
	CreateAnswer(offer *sdp.MediaDescription) (*sdp.MediaDescription, error)

	// CanInsertAttribute reports whether an offered attribute may be copied
	// verbatim into the answer.
	CanInsertAttribute(attr sdp.Attribute) bool
}

// DefaultCanInsertAttribute is the attribute copy policy shared by the
// default handlers. Direction attributes and the rtpmap, sctpmap and
// sctp-port attributes are built by dedicated logic and never copied.
func DefaultCanInsertAttribute(attr sdp.Attribute) bool {
	if isDirectionAttribute(attr.Key) {
		return false
	}

	switch attr.Key {
	case attrKeyRTPMap, attrKeySCTPMap, attrKeySCTPPort:
		return false
	default:
		return true
	}
}

// isOffererOnlyAttribute reports attributes describing the offerer's own
// streams and transport, or the message grouping owned by the agent.
func isOffererOnlyAttribute(key string) bool {
	switch key {
	case sdp.AttrKeySSRC, sdp.AttrKeySSRCGroup, sdp.AttrKeyMsid, sdp.AttrKeyMID,
		sdp.AttrKeyCandidate, sdp.AttrKeyEndOfCandidates, sdp.AttrKeyConnectionSetup,
		attrKeyICEUfrag, attrKeyICEPwd, attrKeyICEOptions, attrKeyFingerprint:
		return true
	default:
		return false
	}
}

// copyAttributes copies the offered attributes h accepts into answer,
// never duplicating an identical key/value pair.
func copyAttributes(h MediaHandler, answer, offer *sdp.MediaDescription) {
	for _, a := range offer.Attributes {
		if isOffererOnlyAttribute(a.Key) || !h.CanInsertAttribute(a) {
			continue
		}
		addAttributeOnce(answer, a)
	}
}

// RejectHandler answers any m-line with a rejection. It is used whenever no
// handler matches an offered media type and protocol.
type RejectHandler struct{}

// Protocol returns an empty string, the handler accepts every protocol.
func (RejectHandler) Protocol() string { return "" }

// CreateOffer always fails, rejection only makes sense as an answer.
func (RejectHandler) CreateOffer(string) (*sdp.MediaDescription, error) {
	return nil, ErrOfferNotSupported
}

// CreateAnswer returns a copy of the offered m-line with port 0 and the
// format list unchanged.
func (RejectHandler) CreateAnswer(offer *sdp.MediaDescription) (*sdp.MediaDescription, error) {
	if offer == nil {
		return nil, ErrNilDescription
	}

	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   offer.MediaName.Media,
			Port:    sdp.RangedPort{Value: mediaPortRejected},
			Protos:  append([]string{}, offer.MediaName.Protos...),
			Formats: append([]string{}, offer.MediaName.Formats...),
		},
	}, nil
}

// CanInsertAttribute always returns false.
func (RejectHandler) CanInsertAttribute(sdp.Attribute) bool { return false }
