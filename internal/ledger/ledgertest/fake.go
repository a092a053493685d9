// Package ledgertest provides an in-memory ledger.Service for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"ecchat/internal/ledger"
)

type Transfer struct {
	Addr   string
	Amount float64
	Memo   string
	TxID   string
}

type Packet struct {
	Tag         string
	ProtocolID  int
	ProtocolVer int
	Data        string
}

// Service is a scriptable daemon. Zero value is usable; set fields before
// handing it to the code under test, or use the setters while it runs.
type Service struct {
	mu sync.Mutex

	Balance     float64
	Unconfirmed float64
	Blocks      int64
	Peers       int64
	SelfTag     string
	RouteOK     bool
	Endpoints   []ledger.NotificationEndpoint

	BalanceErr  error
	AddressErr  error
	SendErr     error
	BlocksErr   error
	PubKeyErr   error
	RegisterErr error
	FindErr     error
	PacketErr   error

	Transfers  []Transfer
	Packets    []Packet
	Buffer     []string
	Registered bool
	Released   int
	Resets     int
	Signed     []string
	addrSeq    int
	txSeq      int
}

var _ ledger.Service = (*Service)(nil)

func New() *Service {
	return &Service{SelfTag: "AselfTag", RouteOK: true}
}

func (s *Service) SetBalance(v float64) {
	s.mu.Lock()
	s.Balance = v
	s.mu.Unlock()
}

func (s *Service) SetSendErr(err error) {
	s.mu.Lock()
	s.SendErr = err
	s.mu.Unlock()
}

// Queue appends raw buffer entries returned by the next GetBuffer.
func (s *Service) Queue(entries ...string) {
	s.mu.Lock()
	s.Buffer = append(s.Buffer, entries...)
	s.mu.Unlock()
}

func (s *Service) SentTransfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.Transfers...)
}

func (s *Service) SentPackets() []Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Packet(nil), s.Packets...)
}

func (s *Service) GetBalance(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Balance, s.BalanceErr
}

func (s *Service) GetUnconfirmedBalance(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Unconfirmed, s.BalanceErr
}

func (s *Service) GetNewAddress(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddressErr != nil {
		return "", s.AddressErr
	}
	s.addrSeq++
	return fmt.Sprintf("addr-%d", s.addrSeq), nil
}

func (s *Service) SendToAddress(_ context.Context, addr string, amount float64, memo string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return "", s.SendErr
	}
	s.txSeq++
	tx := Transfer{Addr: addr, Amount: amount, Memo: memo, TxID: fmt.Sprintf("tx-%d", s.txSeq)}
	s.Transfers = append(s.Transfers, tx)
	return tx.TxID, nil
}

func (s *Service) GetBlockCount(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Blocks, s.BlocksErr
}

func (s *Service) GetConnectionCount(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Peers, s.BlocksErr
}

func (s *Service) GetRoutingPubKey(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SelfTag, s.PubKeyErr
}

func (s *Service) FindRoute(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FindErr
}

func (s *Service) HaveRoute(context.Context, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RouteOK, nil
}

func (s *Service) RegisterBuffer(context.Context, int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RegisterErr != nil {
		return "", s.RegisterErr
	}
	s.Registered = true
	return "buffer-key", nil
}

func (s *Service) ReleaseBuffer(context.Context, int, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Registered = false
	s.Released++
	return nil
}

func (s *Service) ResetBufferTimeout(context.Context, int, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resets++
	return nil
}

func (s *Service) BufferSignMessage(_ context.Context, key, msg string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Signed = append(s.Signed, msg)
	return "sig(" + key + "," + msg + ")", nil
}

func (s *Service) GetBuffer(context.Context, int, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.Buffer
	s.Buffer = nil
	return out, nil
}

func (s *Service) SendPacket(_ context.Context, tag string, protocolID, protocolVer int, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PacketErr != nil {
		return s.PacketErr
	}
	s.Packets = append(s.Packets, Packet{Tag: tag, ProtocolID: protocolID, ProtocolVer: protocolVer, Data: data})
	return nil
}

func (s *Service) GetNotificationEndpoints(context.Context) ([]ledger.NotificationEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.NotificationEndpoint(nil), s.Endpoints...), nil
}
