package relay

import (
	"context"
	"fmt"

	"ecchat/internal/ledger"
	"ecchat/internal/metrics"
	"ecchat/internal/proto"
)

// Sender addresses envelopes from the local tag to one peer tag.
type Sender struct {
	svc         ledger.Service
	protocolID  int
	protocolVer int
	self        string
	peer        string
	metrics     *metrics.Metrics
}

func NewSender(svc ledger.Service, protocolID, protocolVer int, self, peer string, m *metrics.Metrics) *Sender {
	return &Sender{svc: svc, protocolID: protocolID, protocolVer: protocolVer, self: self, peer: peer, metrics: m}
}

func (s *Sender) Peer() string { return s.peer }

func (s *Sender) Self() string { return s.self }

func (s *Sender) Envelope(method string, data map[string]any) proto.Envelope {
	return proto.Envelope{
		ID:      s.protocolID,
		Version: s.protocolVer,
		To:      s.peer,
		From:    s.self,
		Method:  method,
		Data:    data,
	}
}

func (s *Sender) Send(ctx context.Context, method string, data map[string]any) error {
	entry, err := EncodeEntry(s.Envelope(method, data))
	if err != nil {
		s.metrics.IncSendError()
		return fmt.Errorf("encode %s: %w", method, err)
	}
	if err := s.svc.SendPacket(ctx, s.peer, s.protocolID, s.protocolVer, entry); err != nil {
		s.metrics.IncSendError()
		return fmt.Errorf("send %s: %w", method, err)
	}
	s.metrics.IncSent()
	return nil
}
