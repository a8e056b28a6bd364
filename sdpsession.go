// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"sync"

	"github.com/pion/logging"
	"github.com/pion/mediaendpoint/pkg/rtcerr"
	"github.com/pion/sdp/v3"
)

// SDPSession drives one offer/answer exchange and keeps the local, remote
// and negotiated descriptions. The negotiated description is a copy of the
// answer, whichever side produced it.
type SDPSession struct {
	mu sync.RWMutex

	agent      *SDPAgent
	local      *sdp.SessionDescription
	remote     *sdp.SessionDescription
	negotiated *sdp.SessionDescription
	offerer    bool

	log logging.LeveledLogger
}

// NewSDPSession creates a session negotiating with agent. A nil agent is
// replaced by the default one.
func (api *API) NewSDPSession(agent *SDPAgent) *SDPSession {
	if agent == nil {
		agent = api.NewDefaultSDPAgent()
	}

	return &SDPSession{
		agent: agent,
		log:   api.newLogger("sdpsession"),
	}
}

// Agent returns the agent the session negotiates with.
func (s *SDPSession) Agent() *SDPAgent {
	return s.agent
}

// GenerateOffer creates an offer and keeps a copy as local description.
func (s *SDPSession) GenerateOffer() (*sdp.SessionDescription, error) {
	offer, err := s.agent.CreateOffer()
	if err != nil {
		return nil, err
	}

	local, err := copySessionDescription(offer)
	if err != nil {
		return nil, &rtcerr.UnexpectedError{Err: err}
	}

	s.mu.Lock()
	s.local = local
	s.offerer = true
	s.mu.Unlock()

	return offer, nil
}

// ProcessOffer answers offer. The offer becomes the remote description, the
// answer both the local and the negotiated one.
func (s *SDPSession) ProcessOffer(offer *sdp.SessionDescription) (*sdp.SessionDescription, error) {
	if offer == nil {
		return nil, &rtcerr.InvalidParameterError{Err: ErrNilDescription}
	}

	remote, err := copySessionDescription(offer)
	if err != nil {
		return nil, &rtcerr.UnexpectedError{Err: err}
	}

	offerCopy, err := copySessionDescription(offer)
	if err != nil {
		return nil, &rtcerr.UnexpectedError{Err: err}
	}

	answer, err := s.agent.CreateAnswer(offerCopy)
	if err != nil {
		return nil, err
	}

	local, err := copySessionDescription(answer)
	if err != nil {
		return nil, &rtcerr.UnexpectedError{Err: err}
	}
	negotiated, err := copySessionDescription(local)
	if err != nil {
		return nil, &rtcerr.UnexpectedError{Err: err}
	}

	s.mu.Lock()
	s.remote = remote
	s.local = local
	s.negotiated = negotiated
	s.offerer = false
	s.mu.Unlock()

	return answer, nil
}

// ProcessAnswer takes the answer to a previously generated offer as remote
// and negotiated description. It returns false, and changes nothing, when
// there is no local description or the answer cannot be copied.
func (s *SDPSession) ProcessAnswer(answer *sdp.SessionDescription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local == nil {
		s.log.Warn("Answer received without a local offer")

		return false
	}

	remote, err := copySessionDescription(answer)
	if err != nil {
		s.log.Warnf("Failed to copy answer: %v", err)

		return false
	}
	negotiated, err := copySessionDescription(remote)
	if err != nil {
		s.log.Warnf("Failed to copy answer: %v", err)

		return false
	}

	s.remote = remote
	s.negotiated = negotiated

	return true
}

// ProcessOfferString parses offer and answers it, returning the answer text.
func (s *SDPSession) ProcessOfferString(offer string) (string, error) {
	parsed, err := (&SessionDescription{Type: SDPTypeOffer, SDP: offer}).Unmarshal()
	if err != nil {
		return "", &rtcerr.InvalidParameterError{Err: err}
	}

	answer, err := s.ProcessOffer(parsed)
	if err != nil {
		return "", err
	}

	desc, err := newSessionDescription(SDPTypeAnswer, answer)
	if err != nil {
		return "", &rtcerr.UnexpectedError{Err: err}
	}

	return desc.SDP, nil
}

// ProcessAnswerString parses answer and processes it.
func (s *SDPSession) ProcessAnswerString(answer string) bool {
	parsed, err := (&SessionDescription{Type: SDPTypeAnswer, SDP: answer}).Unmarshal()
	if err != nil {
		s.log.Warnf("Failed to parse answer: %v", err)

		return false
	}

	return s.ProcessAnswer(parsed)
}

// LocalDescription returns the description generated locally, nil before
// any offer was generated or processed.
func (s *SDPSession) LocalDescription() *SessionDescription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := SDPTypeAnswer
	if s.offerer {
		t = SDPTypeOffer
	}

	return s.describe(t, s.local)
}

// RemoteDescription returns the description received from the peer.
func (s *SDPSession) RemoteDescription() *SessionDescription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := SDPTypeOffer
	if s.offerer {
		t = SDPTypeAnswer
	}

	return s.describe(t, s.remote)
}

// NegotiatedDescription returns the accepted answer, nil until negotiation
// completed.
func (s *SDPSession) NegotiatedDescription() *SessionDescription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.describe(SDPTypeAnswer, s.negotiated)
}

func (s *SDPSession) describe(t SDPType, desc *sdp.SessionDescription) *SessionDescription {
	d, err := newSessionDescription(t, desc)
	if err != nil {
		s.log.Warnf("Failed to marshal %s: %v", t, err)

		return nil
	}

	return d
}

// negotiatedState returns copies of the negotiated and remote descriptions
// and whether the local side was the offerer.
func (s *SDPSession) negotiatedState() (negotiated, remote *sdp.SessionDescription, offerer bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.negotiated == nil || s.remote == nil {
		return nil, nil, false, ErrNoNegotiatedDescription
	}

	if negotiated, err = copySessionDescription(s.negotiated); err != nil {
		return nil, nil, false, err
	}
	if remote, err = copySessionDescription(s.remote); err != nil {
		return nil, nil, false, err
	}

	return negotiated, remote, s.offerer, nil
}
