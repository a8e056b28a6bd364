// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package rtcerr implements the error kinds surfaced by SDP negotiation and
// transport topology setup.
package rtcerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the negotiation error kinds.
type Kind int

const (
	// KindUnknown is the enum's zero-value, returned for errors that do not
	// carry one of the typed wrappers of this package.
	KindUnknown Kind = iota

	// KindInvalidParameter is a malformed or missing required field while
	// building a message.
	KindInvalidParameter

	// KindUnexpected is an internal invariant violation, for example a
	// description that could not be copied.
	KindUnexpected

	// KindInvalidMedia is a media type a handler does not support.
	KindInvalidMedia

	// KindInvalidProtocol is a protocol mismatch between an offer and a
	// handler.
	KindInvalidProtocol
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParameter:
		return "InvalidParameter"
	case KindUnexpected:
		return "UnexpectedError"
	case KindInvalidMedia:
		return "InvalidMedia"
	case KindInvalidProtocol:
		return "InvalidProtocol"
	default:
		return "Unknown"
	}
}

// InvalidParameterError indicates a malformed or missing required field.
type InvalidParameterError struct {
	Err error
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("InvalidParameter: %v", e.Err)
}

func (e *InvalidParameterError) Unwrap() error {
	return e.Err
}

// UnexpectedError indicates an internal invariant was violated.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("UnexpectedError: %v", e.Err)
}

func (e *UnexpectedError) Unwrap() error {
	return e.Err
}

// InvalidMediaError indicates the media type is not supported by a handler.
type InvalidMediaError struct {
	Err error
}

func (e *InvalidMediaError) Error() string {
	return fmt.Sprintf("InvalidMedia: %v", e.Err)
}

func (e *InvalidMediaError) Unwrap() error {
	return e.Err
}

// InvalidProtocolError indicates the offered protocol does not match the
// handler's protocol.
type InvalidProtocolError struct {
	Err error
}

func (e *InvalidProtocolError) Error() string {
	return fmt.Sprintf("InvalidProtocol: %v", e.Err)
}

func (e *InvalidProtocolError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first typed wrapper found in err's chain.
func KindOf(err error) Kind {
	var (
		invalidParameter *InvalidParameterError
		unexpected       *UnexpectedError
		invalidMedia     *InvalidMediaError
		invalidProtocol  *InvalidProtocolError
	)

	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &invalidParameter):
		return KindInvalidParameter
	case errors.As(err, &unexpected):
		return KindUnexpected
	case errors.As(err, &invalidMedia):
		return KindInvalidMedia
	case errors.As(err, &invalidProtocol):
		return KindInvalidProtocol
	default:
		return KindUnknown
	}
}
