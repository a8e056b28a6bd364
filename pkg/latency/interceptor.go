// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package latency provides an interceptor that measures how long inbound
// RTP packets wait inside a connection before they are consumed.
package latency

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
)

type arrivalKeyType int

// ArrivalKey is the interceptor.Attributes key under which readers record
// the time a packet was received from the network.
const ArrivalKey arrivalKeyType = iota

// Stat is a latency sample for one stream.
type Stat struct {
	// Stream is the interceptor.StreamInfo ID of the measured stream.
	Stream string
	// SSRC of the stream, zero when the stream carries several.
	SSRC uint32
	// Last is the latency of the most recent packet.
	Last time.Duration
	// Average is an exponential moving average with a 1/16 gain, as used for
	// RTP interarrival jitter.
	Average time.Duration
}

// Callback receives latency samples.
type Callback func(Stat)

// InterceptorFactory creates latency interceptors sharing a callback and an
// enabled switch.
type InterceptorFactory struct {
	enabled  atomic.Bool
	lock     sync.RWMutex
	callback Callback
}

// NewInterceptorFactory creates a factory. Collection starts disabled.
func NewInterceptorFactory() *InterceptorFactory {
	return &InterceptorFactory{}
}

// NewInterceptor constructs a new latency interceptor.
func (f *InterceptorFactory) NewInterceptor(string) (interceptor.Interceptor, error) {
	return &Interceptor{factory: f, averages: map[string]time.Duration{}}, nil
}

// SetCallback replaces the callback that receives samples.
func (f *InterceptorFactory) SetCallback(cb Callback) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.callback = cb
}

// Enable turns collection on or off.
func (f *InterceptorFactory) Enable(enabled bool) {
	f.enabled.Store(enabled)
}

// Enabled reports whether collection is on.
func (f *InterceptorFactory) Enabled() bool {
	return f.enabled.Load()
}

func (f *InterceptorFactory) report(stat Stat) {
	f.lock.RLock()
	cb := f.callback
	f.lock.RUnlock()
	if cb != nil {
		cb(stat)
	}
}

// Interceptor reports the time between ArrivalKey and the moment the packet
// leaves the remote stream reader.
type Interceptor struct {
	interceptor.NoOp

	factory  *InterceptorFactory
	lock     sync.Mutex
	averages map[string]time.Duration
}

// BindRemoteStream lets you modify any incoming RTP packets. It is called once for per RemoteStream. The returned method
// will be called once per rtp packet.
func (i *Interceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if err != nil || !i.factory.Enabled() {
			return n, attr, err
		}

		arrival, ok := attr[ArrivalKey].(time.Time)
		if !ok || arrival.IsZero() {
			return n, attr, err
		}

		i.factory.report(i.sample(info, time.Since(arrival)))

		return n, attr, err
	})
}

// UnbindRemoteStream is called when the Stream is removed. It can be used to clean up any data related to that track.
func (i *Interceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
	i.lock.Lock()
	defer i.lock.Unlock()
	delete(i.averages, info.ID)
}

func (i *Interceptor) sample(info *interceptor.StreamInfo, last time.Duration) Stat {
	i.lock.Lock()
	defer i.lock.Unlock()

	avg, ok := i.averages[info.ID]
	if !ok {
		avg = last
	} else {
		avg += (last - avg) / 16
	}
	i.averages[info.ID] = avg

	return Stat{
		Stream:  info.ID,
		SSRC:    info.SSRC,
		Last:    last,
		Average: avg,
	}
}
