// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/logging"
	"github.com/pion/mediaendpoint/pkg/rtcerr"
	"github.com/pion/sdp/v3"
)

// RTPAVPHandler offers and answers RTP m-lines from the MediaEngine codec
// tables.
type RTPAVPHandler struct {
	protocol    string
	rtcpMux     bool
	mediaEngine *MediaEngine
	log         logging.LeveledLogger
}

// RTPAVPHandlerOption configures an RTPAVPHandler.
type RTPAVPHandlerOption func(*RTPAVPHandler)

// WithRTPProfile selects the RTP profile of the handler, RTP/AVP by default.
func WithRTPProfile(protocol string) RTPAVPHandlerOption {
	return func(h *RTPAVPHandler) {
		h.protocol = protocol
	}
}

// NewRTPAVPHandler creates an RTP handler using the API codec tables.
// rtcp-mux is offered and accepted when enabled in the SettingEngine.
func (api *API) NewRTPAVPHandler(opts ...RTPAVPHandlerOption) *RTPAVPHandler {
	h := &RTPAVPHandler{
		protocol:    ProtocolRTPAVP,
		rtcpMux:     api.settingEngine.sdp.RTCPMux,
		mediaEngine: api.mediaEngine,
		log:         api.newLogger("rtpavp"),
	}
	for _, o := range opts {
		o(h)
	}

	return h
}

// Protocol returns the RTP profile of the handler.
func (h *RTPAVPHandler) Protocol() string {
	return h.protocol
}

func (h *RTPAVPHandler) feedbackProfile() bool {
	return strings.Contains(h.protocol, "AVPF")
}

func (h *RTPAVPHandler) codecs(mediaType string) ([]RTPCodec, error) {
	codecs := h.mediaEngine.Codecs(mediaType)
	if len(codecs) == 0 {
		return nil, &rtcerr.InvalidMediaError{Err: fmt.Errorf("%w: %s", ErrNoCodecs, mediaType)}
	}

	return codecs, nil
}

// CreateOffer builds an m-line listing every codec of mediaType. Static
// payload types are announced without rtpmap.
func (h *RTPAVPHandler) CreateOffer(mediaType string) (*sdp.MediaDescription, error) {
	codecs, err := h.codecs(mediaType)
	if err != nil {
		return nil, err
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  mediaType,
			Port:   sdp.RangedPort{Value: mediaPortPlaceholder},
			Protos: splitProtocol(h.protocol),
		},
	}

	for _, codec := range codecs {
		if !matchesReservation(mediaType, codec) {
			h.log.Warnf("Skipping %s/%d: payload type reserved for another codec", codec.Name, codec.PayloadType)

			continue
		}

		pt := strconv.Itoa(int(codec.PayloadType))
		media.MediaName.Formats = append(media.MediaName.Formats, pt)
		if !isStaticPayloadType(codec.PayloadType) {
			media.WithValueAttribute(attrKeyRTPMap, codec.rtpmap())
		}
		if codec.SDPFmtpLine != "" {
			media.WithValueAttribute(attrKeyFmtp, pt+" "+codec.SDPFmtpLine)
		}
		if h.feedbackProfile() {
			for _, fb := range codec.RTCPFeedback {
				media.WithValueAttribute(attrKeyRTCPFb, rtcpFeedbackValue(pt, fb))
			}
		}
	}

	if len(media.MediaName.Formats) == 0 {
		return nil, &rtcerr.InvalidMediaError{Err: fmt.Errorf("%w: %s", ErrNoCodecs, mediaType)}
	}

	if h.rtcpMux {
		media.WithPropertyAttribute(sdp.AttrKeyRTCPMux)
	}
	media.WithPropertyAttribute(sdp.AttrKeySendRecv)

	return media, nil
}

// CreateAnswer intersects the offered formats with the local codec table.
// A format is kept when its payload type is registered locally and, for
// static payload types, the local codec honours the RFC 3551 assignment.
func (h *RTPAVPHandler) CreateAnswer(offer *sdp.MediaDescription) (*sdp.MediaDescription, error) {
	if offer == nil {
		return nil, &rtcerr.InvalidParameterError{Err: ErrNilDescription}
	}

	if protocol := mediaProtocol(offer); protocol != h.protocol {
		return nil, &rtcerr.InvalidProtocolError{
			Err: fmt.Errorf("%w: %s, expected %s", ErrProtocolMismatch, protocol, h.protocol),
		}
	}

	mediaType := offer.MediaName.Media
	if _, err := h.codecs(mediaType); err != nil {
		return nil, err
	}

	answer := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  mediaType,
			Port:   sdp.RangedPort{Value: mediaPortPlaceholder},
			Protos: append([]string{}, offer.MediaName.Protos...),
		},
	}

	for _, format := range offer.MediaName.Formats {
		codec, ok := h.acceptFormat(offer, format)
		if !ok {
			continue
		}

		answer.MediaName.Formats = append(answer.MediaName.Formats, format)
		h.answerCodecAttributes(answer, offer, format, codec)
	}

	if len(answer.MediaName.Formats) == 0 {
		return nil, &rtcerr.InvalidMediaError{Err: fmt.Errorf("%w: %s", ErrNoCommonFormats, mediaType)}
	}

	if h.rtcpMux && hasPropertyAttribute(offer, sdp.AttrKeyRTCPMux) {
		answer.WithPropertyAttribute(sdp.AttrKeyRTCPMux)
	}
	answer.WithPropertyAttribute(reverseDirection(mediaDirection(offer)))

	copyAttributes(h, answer, offer)

	return answer, nil
}

// acceptFormat looks format up in the local codec table. An rtpmap offered
// for a dynamic payload type must name the same codec and clock rate.
func (h *RTPAVPHandler) acceptFormat(offer *sdp.MediaDescription, format string) (RTPCodec, bool) {
	pt, err := parsePayloadType(format)
	if err != nil {
		return RTPCodec{}, false
	}

	mediaType := offer.MediaName.Media
	codec, ok := h.mediaEngine.codecByPayloadType(mediaType, pt)
	if !ok || !matchesReservation(mediaType, codec) {
		return RTPCodec{}, false
	}

	if isStaticPayloadType(pt) {
		return codec, true
	}
	// Stricter than intersecting payload types: a dynamic payload type the
	// peer maps to another codec is not the local codec.
	for _, a := range payloadAttributes(offer, attrKeyRTPMap, format) {
		offered, err := sdpParseRTPMap(a.Value)
		if err != nil {
			h.log.Warnf("Ignoring format %s: %v", format, err)

			return RTPCodec{}, false
		}
		if !strings.EqualFold(offered.Name, codec.Name) || offered.ClockRate != codec.ClockRate {
			return RTPCodec{}, false
		}
	}

	return codec, true
}

func (h *RTPAVPHandler) answerCodecAttributes(answer, offer *sdp.MediaDescription, format string, codec RTPCodec) {
	if !isStaticPayloadType(codec.PayloadType) {
		rtpmaps := payloadAttributes(offer, attrKeyRTPMap, format)
		if len(rtpmaps) == 0 {
			rtpmaps = []sdp.Attribute{sdp.NewAttribute(attrKeyRTPMap, codec.rtpmap())}
		}
		for _, a := range rtpmaps {
			addAttributeOnce(answer, a)
		}
	}

	for _, a := range payloadAttributes(offer, attrKeyFmtp, format) {
		addAttributeOnce(answer, a)
	}

	if !h.feedbackProfile() {
		return
	}
	for _, a := range payloadAttributes(offer, attrKeyRTCPFb, format) {
		for _, fb := range codec.RTCPFeedback {
			if a.Value == rtcpFeedbackValue(format, fb) {
				addAttributeOnce(answer, a)
			}
		}
	}
}

// CanInsertAttribute extends DefaultCanInsertAttribute with the attributes
// the handler negotiates per payload type.
func (h *RTPAVPHandler) CanInsertAttribute(attr sdp.Attribute) bool {
	switch attr.Key {
	case attrKeyFmtp, attrKeyRTCPFb, sdp.AttrKeyRTCPMux:
		return false
	default:
		return DefaultCanInsertAttribute(attr)
	}
}

func rtcpFeedbackValue(pt string, fb RTCPFeedback) string {
	value := pt + " " + fb.Type
	if fb.Parameter != "" {
		value += " " + fb.Parameter
	}

	return value
}
