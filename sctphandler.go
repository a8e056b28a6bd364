// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pion/mediaendpoint/pkg/rtcerr"
	"github.com/pion/sdp/v3"
)

const (
	sctpDefaultPort    = 5000
	sctpDefaultStreams = 1024
	sctpSubprotocol    = "webrtc-datachannel"
)

// SCTPHandler offers and answers data channel m-lines. The legacy syntax
// uses DTLS/SCTP with an sctpmap attribute, the modern one UDP/DTLS/SCTP
// with sctp-port.
type SCTPHandler struct {
	legacy bool
	port   uint16
}

// NewSCTPHandler creates an SCTP handler using the legacy or modern syntax.
func (api *API) NewSCTPHandler(legacy bool) *SCTPHandler {
	return &SCTPHandler{legacy: legacy, port: sctpDefaultPort}
}

// Protocol returns DTLS/SCTP for the legacy syntax, UDP/DTLS/SCTP otherwise.
func (h *SCTPHandler) Protocol() string {
	if h.legacy {
		return ProtocolDTLSSCTP
	}

	return ProtocolUDPDTLSSCTP
}

func (h *SCTPHandler) portString() string {
	return strconv.Itoa(int(h.port))
}

func (h *SCTPHandler) addSCTPAttributes(media *sdp.MediaDescription) {
	if h.legacy {
		media.MediaName.Formats = []string{h.portString()}
		media.WithValueAttribute(attrKeySCTPMap, fmt.Sprintf("%d %s %d", h.port, sctpSubprotocol, sctpDefaultStreams))

		return
	}

	media.MediaName.Formats = []string{sctpSubprotocol}
	media.WithValueAttribute(attrKeySCTPPort, h.portString())
}

// CreateOffer builds an application m-line with setup:actpass.
func (h *SCTPHandler) CreateOffer(mediaType string) (*sdp.MediaDescription, error) {
	if mediaType != MediaTypeApplication {
		return nil, &rtcerr.InvalidMediaError{Err: fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)}
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  mediaType,
			Port:   sdp.RangedPort{Value: mediaPortPlaceholder},
			Protos: splitProtocol(h.Protocol()),
		},
	}
	h.addSCTPAttributes(media)
	media.WithValueAttribute(sdp.AttrKeyConnectionSetup, sdp.ConnectionRoleActpass.String())

	return media, nil
}

// CreateAnswer accepts an offered data channel, taking the opposite setup
// role and asking for a new connection.
func (h *SCTPHandler) CreateAnswer(offer *sdp.MediaDescription) (*sdp.MediaDescription, error) {
	if offer == nil {
		return nil, &rtcerr.InvalidParameterError{Err: ErrNilDescription}
	}

	if protocol := mediaProtocol(offer); protocol != h.Protocol() {
		return nil, &rtcerr.InvalidProtocolError{
			Err: fmt.Errorf("%w: %s, expected %s", ErrProtocolMismatch, protocol, h.Protocol()),
		}
	}

	if offer.MediaName.Media != MediaTypeApplication {
		return nil, &rtcerr.InvalidMediaError{
			Err: fmt.Errorf("%w: %s", ErrUnsupportedMediaType, offer.MediaName.Media),
		}
	}

	if !h.offersDataChannel(offer) {
		return nil, &rtcerr.InvalidMediaError{Err: fmt.Errorf("%w: %s", ErrNoCommonFormats, sctpSubprotocol)}
	}

	answer := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  offer.MediaName.Media,
			Port:   sdp.RangedPort{Value: mediaPortPlaceholder},
			Protos: append([]string{}, offer.MediaName.Protos...),
		},
	}
	h.addSCTPAttributes(answer)

	setup, ok := offer.Attribute(sdp.AttrKeyConnectionSetup)
	role := answerConnectionRole(connectionRoleFromSetup(setup, ok))
	answer.WithValueAttribute(sdp.AttrKeyConnectionSetup, role.String())
	answer.WithValueAttribute(attrKeyConnection, "new")

	copyAttributes(h, answer, offer)

	return answer, nil
}

func (h *SCTPHandler) offersDataChannel(offer *sdp.MediaDescription) bool {
	if !h.legacy {
		return slices.Contains(offer.MediaName.Formats, sctpSubprotocol)
	}

	for _, a := range offer.Attributes {
		if a.Key != attrKeySCTPMap {
			continue
		}

		fields := strings.Fields(a.Value)
		if len(fields) >= 2 && fields[1] == sctpSubprotocol && slices.Contains(offer.MediaName.Formats, fields[0]) {
			return true
		}
	}

	return false
}

// CanInsertAttribute extends DefaultCanInsertAttribute with the connection
// attribute, which is always set to new.
func (h *SCTPHandler) CanInsertAttribute(attr sdp.Attribute) bool {
	if attr.Key == attrKeyConnection {
		return false
	}

	return DefaultCanInsertAttribute(attr)
}
