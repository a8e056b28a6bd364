// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"github.com/pion/logging"
)

// API bundles the settings and codec tables shared by the agents, sessions
// and handlers it creates.
type API struct {
	settingEngine *SettingEngine
	mediaEngine   *MediaEngine
	metrics       *metrics
}

// NewAPI creates a new API object for keeping semi-global settings. When no
// MediaEngine is given the default codecs are registered.
func NewAPI(options ...func(*API)) (*API, error) {
	api := &API{}

	for _, o := range options {
		o(api)
	}

	if api.settingEngine == nil {
		api.settingEngine = &SettingEngine{}
	}

	if api.mediaEngine == nil {
		api.mediaEngine = &MediaEngine{}
		if err := api.mediaEngine.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}
	}

	m, err := newMetrics(api.settingEngine.metricsRegisterer)
	if err != nil {
		return nil, err
	}
	api.metrics = m

	return api, nil
}

// WithMediaEngine allows providing a MediaEngine to the API.
// Settings can be changed after passing the engine to an API.
// When a MediaEngine is given to the API, it is copied.
func WithMediaEngine(m *MediaEngine) func(a *API) {
	return func(a *API) {
		if m != nil {
			a.mediaEngine = m.copy()
		}
	}
}

// WithSettingEngine allows providing a SettingEngine to the API.
// Settings should not be changed after passing the engine to an API.
func WithSettingEngine(s SettingEngine) func(a *API) {
	return func(a *API) {
		a.settingEngine = &s
	}
}

func (api *API) newLogger(scope string) logging.LeveledLogger {
	return api.settingEngine.loggerFactory().NewLogger(scope)
}

// NewDefaultSDPAgent creates an SDPAgent with an RTP/AVP handler for every
// media type of the MediaEngine and a modern SCTP handler for application
// media.
func (api *API) NewDefaultSDPAgent() *SDPAgent {
	agent := api.NewSDPAgent()
	for _, mediaType := range api.mediaEngine.MediaTypes() {
		agent.AddProtoHandler(mediaType, api.NewRTPAVPHandler())
	}
	agent.AddProtoHandler(MediaTypeApplication, api.NewSCTPHandler(false))

	return agent
}
