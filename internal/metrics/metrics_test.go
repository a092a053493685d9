package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.IncPoll()
	m.IncPoll()
	m.IncDecodeError()
	m.IncSendStarted()
	m.IncSendDeclined()
	m.IncSwapProposed()
	m.IncSwapRefused()
	m.IncRecvByMethod("chatAdd")
	m.IncRecvByMethod("chatAdd")
	m.IncDropByReason(DropForeign)
	m.AddCurrentConns(3)
	m.AddCurrentConns(-1)
	snap := m.Snapshot()
	if snap.Relay.Polls != 2 {
		t.Fatalf("expected polls=2, got %d", snap.Relay.Polls)
	}
	if snap.Relay.DecodeErrors != 1 || snap.DropByReason[DropDecode] != 1 {
		t.Fatalf("decode error not counted: %+v %v", snap.Relay, snap.DropByReason)
	}
	if snap.Send.Started != 1 || snap.Send.Declined != 1 {
		t.Fatalf("unexpected send counts: %+v", snap.Send)
	}
	if snap.Swap.Proposed != 1 || snap.Swap.Refused != 1 {
		t.Fatalf("unexpected swap counts: %+v", snap.Swap)
	}
	if snap.RecvByMethod["chatAdd"] != 2 {
		t.Fatalf("expected recv chatAdd=2, got %d", snap.RecvByMethod["chatAdd"])
	}
	if snap.DropByReason[DropForeign] != 1 {
		t.Fatalf("expected foreign drop=1, got %d", snap.DropByReason[DropForeign])
	}
	if snap.CurrentConns != 2 {
		t.Fatalf("expected conns=2, got %d", snap.CurrentConns)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncPoll()
	m.IncRecvByMethod("chatAdd")
	m.RecordTransfer(Transfer{TxID: "x"})
	if err := m.WriteSnapshot(filepath.Join(t.TempDir(), "m.json")); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
}

func TestRecentRingKeepsNewest(t *testing.T) {
	r := NewTransferRecent(2)
	r.Add(Transfer{TxID: "a"})
	r.Add(Transfer{TxID: "b"})
	r.Add(Transfer{TxID: "c"})
	got := r.List()
	if len(got) != 2 || got[0].TxID != "b" || got[1].TxID != "c" {
		t.Fatalf("unexpected ring contents: %+v", got)
	}
}

func TestWriteSnapshot(t *testing.T) {
	m := New()
	m.RecordTransfer(Transfer{Direction: "out", Coin: "ecc", Amount: "5", Addr: "addr-1", TxID: "tx-1"})
	path := filepath.Join(t.TempDir(), "metrics.json")
	if err := m.WriteSnapshot(path); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Recent) != 1 || snap.Recent[0].TxID != "tx-1" {
		t.Fatalf("unexpected recent: %+v", snap.Recent)
	}
}

func TestCollectorExportsCounters(t *testing.T) {
	m := New()
	m.IncSwapCompleted()
	m.IncRecvByMethod("swapInf")
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		t.Fatalf("register: %v", err)
	}
	expected := `
# HELP ecchat_recv_total Inbound envelopes by method.
# TYPE ecchat_recv_total counter
ecchat_recv_total{method="swapInf"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "ecchat_recv_total"); err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n := testutil.CollectAndCount(NewCollector(m), "ecchat_swap_total"); n != 6 {
		t.Fatalf("expected 6 swap series, got %d", n)
	}
}
