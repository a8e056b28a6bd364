// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// MediaState is how far the pairing of a negotiated m-line with its
// connection has progressed.
type MediaState int

const (
	// MediaStateUnknown is the enum's zero-value
	MediaStateUnknown MediaState = iota

	// MediaStateNoConnection indicates no connection serves the m-line yet.
	MediaStateNoConnection

	// MediaStateCreated indicates the connection exists, possibly shared with
	// other m-lines of a BUNDLE group.
	MediaStateCreated

	// MediaStateWired indicates the m-line packets are pumped between the
	// connection and the RTPSessionManager endpoints.
	MediaStateWired

	// MediaStateConnected indicates the connection reported connectivity.
	MediaStateConnected
)

const (
	mediaStateNoConnectionStr = "no-connection"
	mediaStateCreatedStr      = "created"
	mediaStateWiredStr        = "wired"
	mediaStateConnectedStr    = "connected"
)

const (
	mediaEventCreate  = "create"
	mediaEventWire    = "wire"
	mediaEventConnect = "connect"
	mediaEventRelease = "release"
)

func newMediaState(raw string) MediaState {
	switch raw {
	case mediaStateNoConnectionStr:
		return MediaStateNoConnection
	case mediaStateCreatedStr:
		return MediaStateCreated
	case mediaStateWiredStr:
		return MediaStateWired
	case mediaStateConnectedStr:
		return MediaStateConnected
	default:
		return MediaStateUnknown
	}
}

func (s MediaState) String() string {
	switch s {
	case MediaStateNoConnection:
		return mediaStateNoConnectionStr
	case MediaStateCreated:
		return mediaStateCreatedStr
	case MediaStateWired:
		return mediaStateWiredStr
	case MediaStateConnected:
		return mediaStateConnectedStr
	default:
		return unknownStr
	}
}

// mediaPairing tracks one negotiated m-line through
// no-connection -> created -> wired -> connected.
type mediaPairing struct {
	media      *SDPMediaConfig
	connection string
	machine    *fsm.FSM
}

func newMediaPairing(media *SDPMediaConfig) *mediaPairing {
	return &mediaPairing{
		media: media,
		machine: fsm.NewFSM(
			mediaStateNoConnectionStr,
			fsm.Events{
				{Name: mediaEventCreate, Src: []string{mediaStateNoConnectionStr}, Dst: mediaStateCreatedStr},
				{Name: mediaEventWire, Src: []string{mediaStateCreatedStr}, Dst: mediaStateWiredStr},
				{Name: mediaEventConnect, Src: []string{mediaStateWiredStr}, Dst: mediaStateConnectedStr},
				{
					Name: mediaEventRelease,
					Src:  []string{mediaStateCreatedStr, mediaStateWiredStr, mediaStateConnectedStr},
					Dst:  mediaStateNoConnectionStr,
				},
			},
			fsm.Callbacks{},
		),
	}
}

func (p *mediaPairing) state() MediaState {
	return newMediaState(p.machine.Current())
}

// fire runs event, ignoring events that do not apply to the current state.
func (p *mediaPairing) fire(event string) error {
	err := p.machine.Event(context.Background(), event)

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return nil
	}

	return err
}
