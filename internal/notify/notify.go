// Package notify turns daemon publisher feeds into ready signals for the
// dispatcher. Feeds come straight from the daemon over ZMQ or through a
// QUIC bridge.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Kind int

const (
	KindBlock Kind = iota + 1
	KindPacket
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindPacket:
		return "packet"
	}
	return "unknown"
}

// Publisher topics as sent by the daemon.
const (
	TopicHashBlock = "hashblock"
	TopicPacket    = "packet"
)

// Signal says that new data is available for one asset.
type Signal struct {
	Asset int
	Kind  Kind
	// ProtocolID is set for packet signals when the publisher names it.
	ProtocolID int
}

// Message is one published notification.
type Message struct {
	Topic string `json:"topic"`
	Body  []byte `json:"body"`
}

// SignalFor maps a published message to a signal. The packet body carries
// the protocol id after a one byte prefix.
func SignalFor(asset int, m Message) (Signal, bool) {
	switch m.Topic {
	case TopicHashBlock:
		return Signal{Asset: asset, Kind: KindBlock}, true
	case TopicPacket:
		s := Signal{Asset: asset, Kind: KindPacket}
		if len(m.Body) > 1 {
			if id, err := strconv.Atoi(strings.TrimSpace(string(m.Body[1:]))); err == nil {
				s.ProtocolID = id
			}
		}
		return s, true
	}
	return Signal{}, false
}

// Source delivers signals until ctx is done. Sources reconnect on their own
// and return nil on cancellation.
type Source interface {
	Run(ctx context.Context, out chan<- Signal) error
}

// New picks a source for endpoint: tcp:// is a daemon ZMQ publisher,
// quic:// is a bridge.
func New(asset int, endpoint string, log *zap.Logger) (Source, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch {
	case strings.HasPrefix(endpoint, "tcp://"):
		return &ZMQSubscriber{Asset: asset, Endpoint: endpoint, Log: log}, nil
	case strings.HasPrefix(endpoint, "quic://"):
		return &QUICSubscriber{Asset: asset, Addr: strings.TrimPrefix(endpoint, "quic://"), Log: log}, nil
	}
	return nil, fmt.Errorf("unsupported notification endpoint %q", endpoint)
}

const (
	reconnectBase = 200 * time.Millisecond
	reconnectMax  = 5 * time.Second
)

// backoff waits before reconnect attempt n and reports false once ctx is
// done.
func backoff(ctx context.Context, failures int) bool {
	d := reconnectBase
	for i := 1; i < failures && d < reconnectMax; i++ {
		d *= 2
	}
	if d > reconnectMax {
		d = reconnectMax
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func deliver(ctx context.Context, out chan<- Signal, s Signal) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
