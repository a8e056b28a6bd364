// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// SettingEngine allows influencing how descriptions are built and how
// transports are set up. The zero value builds IPv4, unbundled offers
// without rtcp-mux.
type SettingEngine struct {
	sdp struct {
		UseIPv6 bool
		Bundle  bool
		RTCPMux bool
	}
	stats struct {
		Latency bool
	}
	metricsRegisterer prometheus.Registerer
	LoggerFactory     logging.LoggerFactory
}

// SetIPv6 selects IP6 as the address type of the origin and connection
// lines, with "::" as the default address.
func (e *SettingEngine) SetIPv6(useIPv6 bool) {
	e.sdp.UseIPv6 = useIPv6
}

// SetBundle configures whether offers group all media in one BUNDLE group,
// and whether answers accept an offered BUNDLE group.
func (e *SettingEngine) SetBundle(bundle bool) {
	e.sdp.Bundle = bundle
}

// SetRTCPMux configures whether RTP handlers offer and accept rtcp-mux.
func (e *SettingEngine) SetRTCPMux(rtcpMux bool) {
	e.sdp.RTCPMux = rtcpMux
}

// SetLatencyStats configures whether sessions start collecting latency
// statistics on every connection they create.
func (e *SettingEngine) SetLatencyStats(enabled bool) {
	e.stats.Latency = enabled
}

// SetMetricsRegisterer registers the negotiation and topology metrics with
// r. Metrics are still collected, but not exported, when r is nil.
func (e *SettingEngine) SetMetricsRegisterer(r prometheus.Registerer) {
	e.metricsRegisterer = r
}

func (e *SettingEngine) loggerFactory() logging.LoggerFactory {
	if e.LoggerFactory == nil {
		return logging.NewDefaultLoggerFactory()
	}

	return e.LoggerFactory
}
