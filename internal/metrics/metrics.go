package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Drop reasons for inbound relay entries.
const (
	DropForeign = "foreign_sender"
	DropRate    = "rate"
	DropUnknown = "unknown_method"
	DropDecode  = "decode"
)

// Transfer is one entry of the recent transfer ring.
type Transfer struct {
	Direction string `json:"direction"`
	Coin      string `json:"coin"`
	Amount    string `json:"amount"`
	Addr      string `json:"addr"`
	TxID      string `json:"txid"`
}

type Snapshot struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	Relay        RelayMetrics      `json:"relay"`
	Send         SendMetrics       `json:"send"`
	Swap         SwapMetrics       `json:"swap"`
	RecvByMethod map[string]uint64 `json:"recv_by_method"`
	DropByReason map[string]uint64 `json:"drop_by_reason"`
	CurrentConns int64             `json:"current_conns"`
	Recent       []Transfer        `json:"recent"`
}

type RelayMetrics struct {
	Polls        uint64 `json:"polls"`
	PollErrors   uint64 `json:"poll_errors"`
	Sent         uint64 `json:"sent"`
	SendErrors   uint64 `json:"send_errors"`
	DecodeErrors uint64 `json:"decode_errors"`
	Heartbeats   uint64 `json:"heartbeats"`
}

type SendMetrics struct {
	Started      uint64 `json:"started"`
	Completed    uint64 `json:"completed"`
	Declined     uint64 `json:"declined"`
	TimedOut     uint64 `json:"timed_out"`
	WalletLocked uint64 `json:"wallet_locked"`
}

type SwapMetrics struct {
	Proposed  uint64 `json:"proposed"`
	Received  uint64 `json:"received"`
	Completed uint64 `json:"completed"`
	Refused   uint64 `json:"refused"`
	Aborted   uint64 `json:"aborted"`
	TimedOut  uint64 `json:"timed_out"`
}

// Metrics is safe for concurrent use. A nil *Metrics discards everything.
type Metrics struct {
	polls        atomic.Uint64
	pollErrors   atomic.Uint64
	sent         atomic.Uint64
	sendErrors   atomic.Uint64
	decodeErrors atomic.Uint64
	heartbeats   atomic.Uint64

	sendStarted      atomic.Uint64
	sendCompleted    atomic.Uint64
	sendDeclined     atomic.Uint64
	sendTimedOut     atomic.Uint64
	sendWalletLocked atomic.Uint64

	swapProposed  atomic.Uint64
	swapReceived  atomic.Uint64
	swapCompleted atomic.Uint64
	swapRefused   atomic.Uint64
	swapAborted   atomic.Uint64
	swapTimedOut  atomic.Uint64

	currentConns atomic.Int64

	mapMu        sync.Mutex
	recvByMethod map[string]uint64
	dropByReason map[string]uint64

	recent *TransferRecent
}

func New() *Metrics {
	return &Metrics{
		recvByMethod: make(map[string]uint64),
		dropByReason: make(map[string]uint64),
		recent:       NewTransferRecent(32),
	}
}

func (m *Metrics) Recent() *TransferRecent {
	if m == nil {
		return nil
	}
	return m.recent
}

func (m *Metrics) IncPoll() {
	if m != nil {
		m.polls.Add(1)
	}
}

func (m *Metrics) IncPollError() {
	if m != nil {
		m.pollErrors.Add(1)
	}
}

func (m *Metrics) IncSent() {
	if m != nil {
		m.sent.Add(1)
	}
}

func (m *Metrics) IncSendError() {
	if m != nil {
		m.sendErrors.Add(1)
	}
}

func (m *Metrics) IncDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Add(1)
	m.IncDropByReason(DropDecode)
}

func (m *Metrics) IncHeartbeat() {
	if m != nil {
		m.heartbeats.Add(1)
	}
}

func (m *Metrics) IncSendStarted() {
	if m != nil {
		m.sendStarted.Add(1)
	}
}

func (m *Metrics) IncSendCompleted() {
	if m != nil {
		m.sendCompleted.Add(1)
	}
}

func (m *Metrics) IncSendDeclined() {
	if m != nil {
		m.sendDeclined.Add(1)
	}
}

func (m *Metrics) IncSendTimedOut() {
	if m != nil {
		m.sendTimedOut.Add(1)
	}
}

func (m *Metrics) IncWalletLocked() {
	if m != nil {
		m.sendWalletLocked.Add(1)
	}
}

func (m *Metrics) IncSwapProposed() {
	if m != nil {
		m.swapProposed.Add(1)
	}
}

func (m *Metrics) IncSwapReceived() {
	if m != nil {
		m.swapReceived.Add(1)
	}
}

func (m *Metrics) IncSwapCompleted() {
	if m != nil {
		m.swapCompleted.Add(1)
	}
}

func (m *Metrics) IncSwapRefused() {
	if m != nil {
		m.swapRefused.Add(1)
	}
}

func (m *Metrics) IncSwapAborted() {
	if m != nil {
		m.swapAborted.Add(1)
	}
}

func (m *Metrics) IncSwapTimedOut() {
	if m != nil {
		m.swapTimedOut.Add(1)
	}
}

func (m *Metrics) IncRecvByMethod(method string) {
	if m == nil || method == "" {
		return
	}
	m.mapMu.Lock()
	m.recvByMethod[method]++
	m.mapMu.Unlock()
}

func (m *Metrics) IncDropByReason(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.mapMu.Lock()
	m.dropByReason[reason]++
	m.mapMu.Unlock()
}

func (m *Metrics) AddCurrentConns(delta int64) {
	if m != nil {
		m.currentConns.Add(delta)
	}
}

func (m *Metrics) RecordTransfer(t Transfer) {
	if m != nil {
		m.recent.Add(t)
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{GeneratedAt: time.Now().UTC()}
	}
	m.mapMu.Lock()
	recv := make(map[string]uint64, len(m.recvByMethod))
	for k, v := range m.recvByMethod {
		recv[k] = v
	}
	drops := make(map[string]uint64, len(m.dropByReason))
	for k, v := range m.dropByReason {
		drops[k] = v
	}
	m.mapMu.Unlock()
	recent := m.recent.List()
	if recent == nil {
		recent = []Transfer{}
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Relay: RelayMetrics{
			Polls:        m.polls.Load(),
			PollErrors:   m.pollErrors.Load(),
			Sent:         m.sent.Load(),
			SendErrors:   m.sendErrors.Load(),
			DecodeErrors: m.decodeErrors.Load(),
			Heartbeats:   m.heartbeats.Load(),
		},
		Send: SendMetrics{
			Started:      m.sendStarted.Load(),
			Completed:    m.sendCompleted.Load(),
			Declined:     m.sendDeclined.Load(),
			TimedOut:     m.sendTimedOut.Load(),
			WalletLocked: m.sendWalletLocked.Load(),
		},
		Swap: SwapMetrics{
			Proposed:  m.swapProposed.Load(),
			Received:  m.swapReceived.Load(),
			Completed: m.swapCompleted.Load(),
			Refused:   m.swapRefused.Load(),
			Aborted:   m.swapAborted.Load(),
			TimedOut:  m.swapTimedOut.Load(),
		},
		RecvByMethod: recv,
		DropByReason: drops,
		CurrentConns: m.currentConns.Load(),
		Recent:       recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" || m == nil {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

type TransferRecent struct {
	mu   sync.Mutex
	cap  int
	list []Transfer
}

func NewTransferRecent(capacity int) *TransferRecent {
	if capacity <= 0 {
		capacity = 32
	}
	return &TransferRecent{cap: capacity}
}

func (r *TransferRecent) Add(t Transfer) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = t
		return
	}
	r.list = append(r.list, t)
}

func (r *TransferRecent) List() []Transfer {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transfer, len(r.list))
	copy(out, r.list)
	return out
}
