// Package relay reads and writes envelopes through the daemon's protocol
// buffer. Hex transport encoding happens here and nowhere else.
package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ecchat/internal/ledger"
	"ecchat/internal/metrics"
	"ecchat/internal/proto"
)

const (
	releaseCommand   = "ReleaseBufferRequest"
	heartbeatCommand = "ResetBufferTimeout"
	pollPrefix       = "GetBufferRequest:"
)

var ErrNotRegistered = errors.New("relay buffer not registered")

// Session is the registration of one protocol id with the primary daemon.
// It is used from the dispatcher goroutine only.
type Session struct {
	svc        ledger.Service
	protocolID int
	log        *zap.Logger
	metrics    *metrics.Metrics

	key     string
	counter uint64
}

func NewSession(svc ledger.Service, protocolID int, log *zap.Logger, m *metrics.Metrics) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{svc: svc, protocolID: protocolID, log: log, metrics: m}
}

func (s *Session) ProtocolID() int { return s.protocolID }

func (s *Session) Registered() bool { return s.key != "" }

func (s *Session) Register(ctx context.Context) error {
	if s.key != "" {
		return nil
	}
	key, err := s.svc.RegisterBuffer(ctx, s.protocolID)
	if err != nil {
		return fmt.Errorf("register buffer %d: %w", s.protocolID, err)
	}
	if key == "" {
		return fmt.Errorf("register buffer %d: empty buffer key", s.protocolID)
	}
	s.key = key
	s.log.Info("relay registered", zap.Int("protocol_id", s.protocolID))
	return nil
}

// Release gives the buffer back to the daemon. Releasing an unregistered
// session is a no-op.
func (s *Session) Release(ctx context.Context) error {
	if s.key == "" {
		return nil
	}
	sig, err := s.svc.BufferSignMessage(ctx, s.key, releaseCommand)
	if err != nil {
		return fmt.Errorf("sign release: %w", err)
	}
	s.key = ""
	if err := s.svc.ReleaseBuffer(ctx, s.protocolID, sig); err != nil {
		return fmt.Errorf("release buffer %d: %w", s.protocolID, err)
	}
	s.log.Info("relay released", zap.Int("protocol_id", s.protocolID))
	return nil
}

// Heartbeat keeps the daemon from reclaiming an idle buffer.
func (s *Session) Heartbeat(ctx context.Context) error {
	if s.key == "" {
		return ErrNotRegistered
	}
	sig, err := s.svc.BufferSignMessage(ctx, s.key, heartbeatCommand)
	if err != nil {
		return fmt.Errorf("sign heartbeat: %w", err)
	}
	if err := s.svc.ResetBufferTimeout(ctx, s.protocolID, sig); err != nil {
		return fmt.Errorf("reset buffer timeout: %w", err)
	}
	s.metrics.IncHeartbeat()
	return nil
}

// Poll fetches everything queued for the protocol id. Each call signs a
// fresh request token. Entries that fail to decode are logged and skipped;
// the rest are returned in relay order.
func (s *Session) Poll(ctx context.Context) ([]proto.Envelope, error) {
	if s.key == "" {
		return nil, ErrNotRegistered
	}
	s.counter++
	cmd := fmt.Sprintf("%s%d%d", pollPrefix, s.protocolID, s.counter)
	sig, err := s.svc.BufferSignMessage(ctx, s.key, cmd)
	if err != nil {
		s.metrics.IncPollError()
		return nil, fmt.Errorf("sign poll: %w", err)
	}
	entries, err := s.svc.GetBuffer(ctx, s.protocolID, sig)
	if err != nil {
		s.metrics.IncPollError()
		return nil, fmt.Errorf("get buffer: %w", err)
	}
	s.metrics.IncPoll()
	out := make([]proto.Envelope, 0, len(entries))
	for i, entry := range entries {
		env, err := DecodeEntry(entry)
		if err != nil {
			s.metrics.IncDecodeError()
			s.log.Warn("skip relay entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// DecodeEntry turns one hex buffer entry into an envelope.
func DecodeEntry(entry string) (proto.Envelope, error) {
	raw, err := hex.DecodeString(entry)
	if err != nil {
		return proto.Envelope{}, fmt.Errorf("hex: %w", err)
	}
	return proto.Decode(raw)
}

// EncodeEntry is the inverse of DecodeEntry.
func EncodeEntry(env proto.Envelope) (string, error) {
	raw, err := proto.Encode(env)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
