// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mediaendpoint"

// Label values of sdp_media_lines_total.
const (
	mediaLineAccepted = "accepted"
	mediaLineRejected = "rejected"
	mediaLineOffered  = "offered"
)

type metrics struct {
	mediaLines         *prometheus.CounterVec
	connectionsCreated *prometheus.CounterVec
	stateChanges       *prometheus.CounterVec
	routingErrors      prometheus.Counter
	latency            *prometheus.HistogramVec
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		mediaLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sdp_media_lines_total",
			Help:      "Media lines produced by offers and answers.",
		}, []string{"media", "result"}),
		connectionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_created_total",
			Help:      "Transport connections created by RTP sessions.",
		}, []string{"kind"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state_changes_total",
			Help:      "Aggregated connectivity state transitions.",
		}, []string{"state"}),
		routingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ssrc_routing_errors_total",
			Help:      "Inbound SSRCs that could not be matched to a media.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "connection_latency_seconds",
			Help:      "Time inbound packets spend inside a connection.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"connection"}),
	}

	if registerer == nil {
		return m, nil
	}

	var err error
	if m.mediaLines, err = register(registerer, m.mediaLines); err != nil {
		return nil, err
	}
	if m.connectionsCreated, err = register(registerer, m.connectionsCreated); err != nil {
		return nil, err
	}
	if m.stateChanges, err = register(registerer, m.stateChanges); err != nil {
		return nil, err
	}
	if m.routingErrors, err = register(registerer, m.routingErrors); err != nil {
		return nil, err
	}
	if m.latency, err = register(registerer, m.latency); err != nil {
		return nil, err
	}

	return m, nil
}

// register adds c to r, returning the already registered collector when
// another API registered the same metric first.
func register[T prometheus.Collector](r prometheus.Registerer, c T) (T, error) {
	err := r.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}

	return c, err
}
