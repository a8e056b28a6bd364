// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpconn

import (
	"errors"
	"io"
	"net"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/mediaendpoint"
	"github.com/pion/mediaendpoint/pkg/latency"
)

var errNoDialer = errors.New("rtpconn: no dialer")

// Dialer opens a transport of the connection name. rtcp is true for the
// second transport of a connection that does not multiplex RTP and RTCP.
type Dialer func(name string, rtcp bool) (net.Conn, error)

// Config configures a Factory.
type Config struct {
	Dial          Dialer
	LoggerFactory logging.LoggerFactory

	// Interceptors are run on inbound RTP after the latency interceptor.
	Interceptors []interceptor.Factory
}

// Factory creates connections over the transports returned by its Dialer.
type Factory struct {
	dial          Dialer
	loggerFactory logging.LoggerFactory
	interceptors  []interceptor.Factory
	log           logging.LeveledLogger
}

// NewFactory creates a Factory.
func NewFactory(config Config) (*Factory, error) {
	if config.Dial == nil {
		return nil, errNoDialer
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Factory{
		dial:          config.Dial,
		loggerFactory: loggerFactory,
		interceptors:  config.Interceptors,
		log:           loggerFactory.NewLogger("rtpconn"),
	}, nil
}

// NewRTPConnection creates a connection with separate RTP and RTCP
// transports.
func (f *Factory) NewRTPConnection(
	name string, media *mediaendpoint.SDPMediaConfig,
) (mediaendpoint.RTPConnection, error) {
	t, err := f.newTransport(name, media, true)
	if err != nil {
		return nil, err
	}

	return &Conn{transport: t}, nil
}

// NewRTCPMuxConnection creates a connection multiplexing RTP and RTCP.
func (f *Factory) NewRTCPMuxConnection(
	name string, media *mediaendpoint.SDPMediaConfig,
) (mediaendpoint.RTCPMuxConnection, error) {
	t, err := f.newTransport(name, media, false)
	if err != nil {
		return nil, err
	}

	return &RTCPMuxConn{transport: t}, nil
}

// NewBundleConnection creates a connection shared by a BUNDLE group.
func (f *Factory) NewBundleConnection(
	name string, media *mediaendpoint.SDPMediaConfig,
) (mediaendpoint.BundleConnection, error) {
	t, err := f.newTransport(name, media, false)
	if err != nil {
		return nil, err
	}

	return &BundleConn{transport: t}, nil
}

func (f *Factory) newTransport(name string, media *mediaendpoint.SDPMediaConfig, separateRTCP bool) (*transport, error) {
	latencyFactory := latency.NewInterceptorFactory()

	registry := interceptor.Registry{}
	registry.Add(latencyFactory)
	for _, i := range f.interceptors {
		registry.Add(i)
	}

	chain, err := registry.Build(name)
	if err != nil {
		return nil, err
	}

	if media != nil {
		f.log.Debugf("New connection %s for %s m-line %d", name, media.MediaType(), media.ID)
	}

	return &transport{
		name:          name,
		separateRTCP:  separateRTCP,
		dial:          f.dial,
		log:           f.log,
		loggerFactory: f.loggerFactory,
		latency:       latencyFactory,
		interceptor:   chain,
		streamInfo:    &interceptor.StreamInfo{ID: name},
		srcs:          map[srcKind]io.Reader{},
	}, nil
}
