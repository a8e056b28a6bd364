// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"fmt"
	"strings"
)

// Media types understood by the default handlers.
const (
	MediaTypeAudio       = "audio"
	MediaTypeVideo       = "video"
	MediaTypeApplication = "application"
)

const maxPayloadType = 127

// RTCPFeedback signals the connection supports a given RTCP feedback
// mechanism for a codec. https://draft.ortc.org/#dom-rtcrtcpfeedback
type RTCPFeedback struct {
	Type      string
	Parameter string
}

// RTPCodec is one entry of a media type's codec table.
type RTPCodec struct {
	PayloadType  uint8
	Name         string
	ClockRate    uint32
	Channels     uint16
	SDPFmtpLine  string
	RTCPFeedback []RTCPFeedback
}

func (c RTPCodec) rtpmap() string {
	rtpmap := fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
	if c.Channels > 0 {
		rtpmap += fmt.Sprintf("/%d", c.Channels)
	}

	return rtpmap
}

// A MediaEngine holds the static codec tables, one per media type, that RTP
// handlers offer and intersect offers against. A MediaEngine must not be
// changed once it has been passed to an API.
type MediaEngine struct {
	mediaTypes []string
	codecs     map[string][]RTPCodec
}

// RegisterDefaultCodecs registers the default audio and video codecs.
func (m *MediaEngine) RegisterDefaultCodecs() error {
	for _, codec := range []RTPCodec{
		{PayloadType: 111, Name: "opus", ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
		{PayloadType: 0, Name: "PCMU", ClockRate: 8000},
		{PayloadType: 8, Name: "PCMA", ClockRate: 8000},
	} {
		if err := m.RegisterCodec(MediaTypeAudio, codec); err != nil {
			return err
		}
	}

	videoRTCPFeedback := []RTCPFeedback{{"goog-remb", ""}, {"ccm", "fir"}, {"nack", ""}, {"nack", "pli"}}
	for _, codec := range []RTPCodec{
		{PayloadType: 96, Name: "VP8", ClockRate: 90000, RTCPFeedback: videoRTCPFeedback},
		{
			PayloadType:  102,
			Name:         "H264",
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
			RTCPFeedback: videoRTCPFeedback,
		},
	} {
		if err := m.RegisterCodec(MediaTypeVideo, codec); err != nil {
			return err
		}
	}

	return nil
}

// RegisterCodec adds codec to the table of mediaType. A codec already
// registered with the same payload type is replaced in place.
func (m *MediaEngine) RegisterCodec(mediaType string, codec RTPCodec) error {
	if codec.PayloadType > maxPayloadType {
		return fmt.Errorf("%w: %d", ErrInvalidPayloadType, codec.PayloadType)
	}
	if codec.Name == "" || codec.ClockRate == 0 {
		return fmt.Errorf("%w: payload type %d", ErrInvalidRTPMap, codec.PayloadType)
	}

	if m.codecs == nil {
		m.codecs = map[string][]RTPCodec{}
	}
	if _, ok := m.codecs[mediaType]; !ok {
		m.mediaTypes = append(m.mediaTypes, mediaType)
	}

	for i, c := range m.codecs[mediaType] {
		if c.PayloadType == codec.PayloadType {
			m.codecs[mediaType][i] = codec

			return nil
		}
	}
	m.codecs[mediaType] = append(m.codecs[mediaType], codec)

	return nil
}

// MediaTypes returns the media types with registered codecs, in
// registration order.
func (m *MediaEngine) MediaTypes() []string {
	return append([]string{}, m.mediaTypes...)
}

// Codecs returns a copy of the codec table of mediaType.
func (m *MediaEngine) Codecs(mediaType string) []RTPCodec {
	return append([]RTPCodec{}, m.codecs[mediaType]...)
}

func (m *MediaEngine) codecByPayloadType(mediaType string, payloadType uint8) (RTPCodec, bool) {
	for _, c := range m.codecs[mediaType] {
		if c.PayloadType == payloadType {
			return c, true
		}
	}

	return RTPCodec{}, false
}

func (m *MediaEngine) copy() *MediaEngine {
	cp := &MediaEngine{
		mediaTypes: append([]string{}, m.mediaTypes...),
		codecs:     make(map[string][]RTPCodec, len(m.codecs)),
	}
	for mediaType, codecs := range m.codecs {
		cp.codecs[mediaType] = append([]RTPCodec{}, codecs...)
	}

	return cp
}

// highestReservedPayloadType is the last payload type with a static
// assignment in RFC 3551 section 6.
const highestReservedPayloadType = 34

type reservedPayloadType struct {
	name      string
	clockRate uint32
	channels  uint16
	// empty for payload types valid for both audio and video
	mediaType string
}

// rfc3551PayloadTypes is RFC 3551 tables 4 and 5, indexed by payload type.
// Reserved and unassigned entries have an empty name.
var rfc3551PayloadTypes = [highestReservedPayloadType + 1]reservedPayloadType{ //nolint:gochecknoglobals
	0:  {"PCMU", 8000, 1, MediaTypeAudio},
	3:  {"GSM", 8000, 1, MediaTypeAudio},
	4:  {"G723", 8000, 1, MediaTypeAudio},
	5:  {"DVI4", 8000, 1, MediaTypeAudio},
	6:  {"DVI4", 16000, 1, MediaTypeAudio},
	7:  {"LPC", 8000, 1, MediaTypeAudio},
	8:  {"PCMA", 8000, 1, MediaTypeAudio},
	9:  {"G722", 8000, 1, MediaTypeAudio},
	10: {"L16", 44100, 2, MediaTypeAudio},
	11: {"L16", 44100, 1, MediaTypeAudio},
	12: {"QCELP", 8000, 1, MediaTypeAudio},
	13: {"CN", 8000, 1, MediaTypeAudio},
	14: {"MPA", 90000, 0, MediaTypeAudio},
	15: {"G728", 8000, 1, MediaTypeAudio},
	16: {"DVI4", 11025, 1, MediaTypeAudio},
	17: {"DVI4", 22050, 1, MediaTypeAudio},
	18: {"G729", 8000, 1, MediaTypeAudio},
	25: {"CelB", 90000, 0, MediaTypeVideo},
	26: {"JPEG", 90000, 0, MediaTypeVideo},
	28: {"nv", 90000, 0, MediaTypeVideo},
	31: {"H261", 90000, 0, MediaTypeVideo},
	32: {"MPV", 90000, 0, MediaTypeVideo},
	33: {"MP2T", 90000, 0, ""},
	34: {"H263", 90000, 0, MediaTypeVideo},
}

// isStaticPayloadType reports whether pt is in the RFC 3551 static range and
// so must not be given an explicit rtpmap.
func isStaticPayloadType(pt uint8) bool {
	return pt <= highestReservedPayloadType
}

// matchesReservation reports whether codec, configured for mediaType, may
// use its static payload type: the reservation must exist, be for the same
// media kind and its encoding name must prefix the configured name.
func matchesReservation(mediaType string, codec RTPCodec) bool {
	if !isStaticPayloadType(codec.PayloadType) {
		return true
	}

	reserved := rfc3551PayloadTypes[codec.PayloadType]
	if reserved.name == "" {
		return false
	}
	if reserved.mediaType != "" && reserved.mediaType != mediaType {
		return false
	}

	return strings.HasPrefix(strings.ToUpper(codec.Name), strings.ToUpper(reserved.name))
}
