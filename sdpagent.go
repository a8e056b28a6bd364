// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/mediaendpoint/pkg/rtcerr"
	"github.com/pion/sdp/v3"
)

// protoHandler is one registration. Its id names the connection serving
// the unbundled m-lines of the registration.
type protoHandler struct {
	handler MediaHandler
	id      int
}

type protoHandlers struct {
	protocols []string
	handlers  map[string]protoHandler
}

type mediaHook struct {
	f func(*SDPMediaConfig)
}

// SDPAgent owns the handler registry and assembles whole offers and answers
// from the m-lines the handlers build.
type SDPAgent struct {
	mu sync.Mutex

	useIPv6 bool
	bundle  bool

	mediaTypes []string
	registry   map[string]*protoHandlers
	nextID     int

	onMedia []*mediaHook

	metrics *metrics
	log     logging.LeveledLogger
}

// NewSDPAgent creates an agent without handlers.
func (api *API) NewSDPAgent() *SDPAgent {
	return &SDPAgent{
		useIPv6:  api.settingEngine.sdp.UseIPv6,
		bundle:   api.settingEngine.sdp.Bundle,
		registry: map[string]*protoHandlers{},
		metrics:  api.metrics,
		log:      api.newLogger("sdpagent"),
	}
}

// AddProtoHandler registers handler for mediaType under its protocol. The
// last handler registered for a media type and protocol wins. Every call
// returns a new id, so one handler registered for several media types
// serves each of them under its own id.
func (a *SDPAgent) AddProtoHandler(mediaType string, handler MediaHandler) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++

	protos, ok := a.registry[mediaType]
	if !ok {
		protos = &protoHandlers{handlers: map[string]protoHandler{}}
		a.registry[mediaType] = protos
		a.mediaTypes = append(a.mediaTypes, mediaType)
	}

	protocol := handler.Protocol()
	if _, ok := protos.handlers[protocol]; !ok {
		protos.protocols = append(protos.protocols, protocol)
	}
	protos.handlers[protocol] = protoHandler{handler: handler, id: id}

	return id
}

// HandlerFor returns the handler registered for mediaType and protocol.
func (a *SDPAgent) HandlerFor(mediaType, protocol string) (MediaHandler, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.entryLocked(mediaType, protocol)

	return entry.handler, ok
}

// HandlerID returns the id of the registration serving mediaType and
// protocol.
func (a *SDPAgent) HandlerID(mediaType, protocol string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.entryLocked(mediaType, protocol)

	return entry.id, ok
}

func (a *SDPAgent) entryLocked(mediaType, protocol string) (protoHandler, bool) {
	protos, ok := a.registry[mediaType]
	if !ok {
		return protoHandler{}, false
	}
	entry, ok := protos.handlers[protocol]

	return entry, ok
}

// OnMedia adds a hook called for every m-line the agent offers or accepts,
// after the handler built it. The returned function removes the hook.
func (a *SDPAgent) OnMedia(f func(*SDPMediaConfig)) (remove func()) {
	hook := &mediaHook{f: f}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.onMedia = append(a.onMedia, hook)

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.onMedia = slices.DeleteFunc(a.onMedia, func(h *mediaHook) bool { return h == hook })
	}
}

type offerEntry struct {
	mediaType string
	handler   MediaHandler
}

func (a *SDPAgent) snapshot() ([]offerEntry, []*mediaHook, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var entries []offerEntry
	for _, mediaType := range a.mediaTypes {
		protos := a.registry[mediaType]
		for _, protocol := range protos.protocols {
			entries = append(entries, offerEntry{mediaType, protos.handlers[protocol].handler})
		}
	}

	return entries, slices.Clone(a.onMedia), a.bundle
}

// CreateOffer builds an offer with one m-line per registered media type and
// protocol, in registration order. A handler that fails is logged and its
// m-line left out. With bundle enabled every m-line gets a mid and joins
// BUNDLE group 0.
func (a *SDPAgent) CreateOffer() (*sdp.SessionDescription, error) {
	entries, hooks, bundle := a.snapshot()

	msg := NewSDPMessageContext(a.useIPv6)
	var group *SDPMediaGroup
	if bundle {
		group = msg.AddGroup()
	}

	for _, e := range entries {
		media, err := e.handler.CreateOffer(e.mediaType)
		if err != nil {
			a.log.Warnf("Failed to offer %s %s: %v", e.mediaType, e.handler.Protocol(), err)

			continue
		}

		config := msg.AddMedia(media, msg.NextMID(e.mediaType))
		if group != nil {
			group.Add(config)
		}
		for _, hook := range hooks {
			hook.f(config)
		}
		a.metrics.mediaLines.WithLabelValues(e.mediaType, mediaLineOffered).Inc()
	}

	return msg.Pack()
}

// CreateAnswer builds the answer to offer: exactly one m-line per offered
// m-line, in the same order. An m-line without a handler, or whose handler
// fails, is rejected.
func (a *SDPAgent) CreateAnswer(offer *sdp.SessionDescription) (*sdp.SessionDescription, error) {
	if offer == nil {
		return nil, &rtcerr.InvalidParameterError{Err: ErrNilDescription}
	}

	_, hooks, bundle := a.snapshot()
	offered, err := NewSDPMessageContextFromDescription(offer)
	if err != nil {
		return nil, err
	}

	msg := NewSDPMessageContext(a.useIPv6)
	answers := make([]*SDPMediaConfig, 0, len(offered.Medias()))

	for _, offerMedia := range offered.Medias() {
		media, accepted := a.answerMedia(offerMedia.Media)
		if media == nil {
			return nil, &rtcerr.UnexpectedError{
				Err: fmt.Errorf("%w: media %d", ErrNilDescription, offerMedia.ID),
			}
		}

		config := msg.AddMedia(media, offerMedia.MID)
		answers = append(answers, config)

		result := mediaLineRejected
		if accepted {
			result = mediaLineAccepted
			for _, hook := range hooks {
				hook.f(config)
			}
		}
		a.metrics.mediaLines.WithLabelValues(offerMedia.MediaType(), result).Inc()
	}

	if bundle {
		for _, offeredGroup := range offered.Groups() {
			group := msg.AddGroup()
			for _, member := range offeredGroup.Medias {
				if answer := answers[member.ID]; answer.MID != "" && !answer.IsInactive() {
					group.Add(answer)
				}
			}
		}
	}

	return msg.Pack()
}

func (a *SDPAgent) answerMedia(offer *sdp.MediaDescription) (*sdp.MediaDescription, bool) {
	mediaType, protocol := offer.MediaName.Media, mediaProtocol(offer)

	a.mu.Lock()
	entry, ok := a.entryLocked(mediaType, protocol)
	a.mu.Unlock()

	switch {
	case offer.MediaName.Port.Value == mediaPortRejected:
		a.log.Debugf("Offered %s %s is disabled", mediaType, protocol)
	case ok:
		answer, err := entry.handler.CreateAnswer(offer)
		if err == nil {
			return answer, true
		}
		a.log.Warnf("Rejecting %s %s: %v", mediaType, protocol, err)
	default:
		a.log.Debugf("No handler for %s %s, rejecting", mediaType, protocol)
	}

	answer, err := RejectHandler{}.CreateAnswer(offer)
	if err != nil {
		return nil, false
	}

	return answer, false
}
