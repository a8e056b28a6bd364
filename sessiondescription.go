// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// SessionDescription is the signalling form of a description held by an
// SDPSession: its place in the exchange and its SDP text.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// Unmarshal parses the SDP text. Only offers and answers can be parsed.
func (sd SessionDescription) Unmarshal() (*sdp.SessionDescription, error) {
	if sd.Type != SDPTypeOffer && sd.Type != SDPTypeAnswer {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSDPType, sd.Type)
	}

	parsed := &sdp.SessionDescription{}
	if err := parsed.UnmarshalString(sd.SDP); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSDPUnmarshalling, err)
	}

	return parsed, nil
}

// newSessionDescription marshals desc as a description of type t. A nil
// desc, one the session does not hold yet, gives nil.
func newSessionDescription(t SDPType, desc *sdp.SessionDescription) (*SessionDescription, error) {
	if desc == nil {
		return nil, nil //nolint:nilnil
	}

	raw, err := desc.Marshal()
	if err != nil {
		return nil, err
	}

	return &SessionDescription{Type: t, SDP: string(raw)}, nil
}
