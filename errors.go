// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"errors"
)

var (
	// ErrOfferNotSupported indicates the handler can only answer.
	ErrOfferNotSupported = errors.New("handler does not create offers")

	// ErrProtocolMismatch indicates an offered m-line protocol differs from
	// the handler's protocol.
	ErrProtocolMismatch = errors.New("offered protocol does not match handler")

	// ErrUnsupportedMediaType indicates a handler was asked for a media type it
	// has no capabilities for.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrNoCodecs indicates there are no local codecs for a media type.
	ErrNoCodecs = errors.New("no codecs registered for media type")

	// ErrNoCommonFormats indicates no offered format survived intersection.
	ErrNoCommonFormats = errors.New("no common formats")

	// ErrNilDescription indicates a nil session or media description.
	ErrNilDescription = errors.New("nil description")

	// ErrNoHandler indicates there is no handler for a media type/protocol pair.
	ErrNoHandler = errors.New("no handler for media type and protocol")

	// ErrDescriptionCopy indicates a description could not be deep copied.
	ErrDescriptionCopy = errors.New("failed to copy session description")

	// ErrAnswerWithoutOffer indicates an answer was processed before any
	// local description existed.
	ErrAnswerWithoutOffer = errors.New("answer processed without a local offer")

	// ErrSDPUnmarshalling indicates SDP text could not be parsed.
	ErrSDPUnmarshalling = errors.New("failed to unmarshal SDP")

	// ErrUnknownSDPType indicates a description that is neither an offer nor
	// an answer.
	ErrUnknownSDPType = errors.New("description is neither offer nor answer")

	// ErrInvalidRTPMap indicates a malformed rtpmap attribute.
	ErrInvalidRTPMap = errors.New("invalid rtpmap attribute")

	// ErrInvalidSSRCAttribute indicates a malformed ssrc attribute.
	ErrInvalidSSRCAttribute = errors.New("invalid ssrc attribute")

	// ErrInvalidPayloadType indicates a payload type outside 0..127.
	ErrInvalidPayloadType = errors.New("invalid payload type")

	// ErrNoConnectionFactory indicates a BaseRTPSession has no factory to
	// create connections with.
	ErrNoConnectionFactory = errors.New("no connection factory")

	// ErrNoSessionManager indicates a BaseRTPSession has no RTPSessionManager.
	ErrNoSessionManager = errors.New("no rtp session manager")

	// ErrNoNegotiatedDescription indicates transport setup was attempted
	// before negotiation completed.
	ErrNoNegotiatedDescription = errors.New("no negotiated description")

	// ErrSessionClosed indicates the session was released.
	ErrSessionClosed = errors.New("session closed")

	// ErrTransportStarted indicates StartTransportSend was already called.
	ErrTransportStarted = errors.New("transport already started")

	// ErrUnsupportedConnection indicates a connection does not offer the
	// requested sink or src.
	ErrUnsupportedConnection = errors.New("connection does not support endpoint")
)
