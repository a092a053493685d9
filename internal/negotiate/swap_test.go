package negotiate

import (
	"context"
	"strings"
	"testing"

	"ecchat/internal/proto"
)

func fixedIDs(t *testing.T, ids ...string) {
	t.Helper()
	restore := NewID
	i := 0
	NewID = func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
	t.Cleanup(func() { NewID = restore })
}

func TestSwapProposeThenExecute(t *testing.T) {
	fixedIDs(t, "swap-1")
	f := newFixture(t)
	ctx := context.Background()
	out := emitted(f.swap.Propose(ctx, "1", 0, "2", 1))
	if len(out) != 1 || out[0].Method != proto.MethodSwapInf {
		t.Fatalf("expected swapInf, got %+v", out)
	}
	want := proto.SwapInf("swap-1", "ecc", "1", "ltc", "2")
	for k, v := range want {
		if out[0].Data[k] != v {
			t.Fatalf("swapInf %s = %v, want %v", k, out[0].Data[k], v)
		}
	}
	if f.swap.State != SwapProposed || f.swap.Role != RoleProposer {
		t.Fatalf("unexpected swap: %+v", f.swap)
	}
	if f.timers.armed[f.swap.Timer] != f.env.Timeouts.SwapPropose {
		t.Fatalf("propose timer not armed")
	}
	proposeTimer := f.swap.Timer
	out = emitted(f.swap.Execute(ctx))
	if len(out) != 1 || out[0].Method != proto.MethodSwapReq {
		t.Fatalf("expected swapReq, got %+v", out)
	}
	if out[0].Data[proto.KeyUUID] != "swap-1" || out[0].Data[proto.KeyCoinGv] != "ecc" || out[0].Data[proto.KeyAddrGv] != "addr-1" {
		t.Fatalf("unexpected swapReq: %v", out[0].Data)
	}
	if !f.timers.cancelled[proposeTimer] || f.timers.armed[f.swap.Timer] != f.env.Timeouts.SwapStep {
		t.Fatalf("execute must rearm with the step timeout")
	}
}

func TestSwapExecuteWithoutProposal(t *testing.T) {
	f := newFixture(t)
	effects := f.swap.Execute(context.Background())
	if len(emitted(effects)) != 0 || reports(effects)[0] != "no swap available" {
		t.Fatalf("unexpected effects: %+v", effects)
	}
}

func TestSwapReproposeCancelsOldTimer(t *testing.T) {
	fixedIDs(t, "old", "new")
	f := newFixture(t)
	ctx := context.Background()
	f.swap.Propose(ctx, "1", 0, "2", 1)
	old := f.swap.Timer
	f.swap.Propose(ctx, "3", 1, "4", 0)
	if !f.timers.cancelled[old] {
		t.Fatalf("old timer not cancelled")
	}
	if effects := f.swap.Timeout(old); effects != nil {
		t.Fatalf("old handle fired into new state: %+v", effects)
	}
	if f.swap.ID != "new" || f.swap.GiveAmount != 3 || f.swap.GiveAsset != 1 {
		t.Fatalf("new proposal damaged: %+v", f.swap)
	}
}

func TestSwapFailedReproposeLeavesIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.swap.Propose(ctx, "1", 0, "2", 1)
	old := f.swap.Timer
	effects := f.swap.Propose(ctx, "50", 0, "2", 1)
	if len(emitted(effects)) != 0 || f.swap.Pending() || !f.timers.cancelled[old] {
		t.Fatalf("failed re-proposal must still clear the old swap: %+v", f.swap)
	}
}

func TestSwapRefusalNeverTransfers(t *testing.T) {
	for _, id := range []string{"swap-1", ""} {
		fixedIDs(t, "swap-1")
		f := newFixture(t)
		ctx := context.Background()
		f.swap.Propose(ctx, "1", 0, "2", 1)
		f.swap.Execute(ctx)
		effects := f.swap.ResponseReceived(ctx, id, "", proto.DeclineAddr)
		if len(emitted(effects)) != 0 || reports(effects)[0] != "swap refused by peer" {
			t.Fatalf("unexpected refusal effects: %+v", effects)
		}
		if f.swap.Pending() || len(f.ltc.SentTransfers())+len(f.ecc.SentTransfers()) != 0 {
			t.Fatalf("refusal must clear without transfers")
		}
	}
}

func TestSwapResponseTransfersTakeAmount(t *testing.T) {
	fixedIDs(t, "swap-1")
	f := newFixture(t)
	ctx := context.Background()
	f.swap.Propose(ctx, "1", 0, "2", 1)
	f.swap.Execute(ctx)
	if effects := f.swap.ResponseReceived(ctx, "swap-1", "ecc", "ltc-addr"); effects != nil {
		t.Fatalf("take symbol mismatch must be ignored: %+v", effects)
	}
	if effects := f.swap.ResponseReceived(ctx, "other", "ltc", "ltc-addr"); effects != nil {
		t.Fatalf("foreign id must be ignored: %+v", effects)
	}
	effects := f.swap.ResponseReceived(ctx, "swap-1", "ltc", "ltc-addr")
	out := emitted(effects)
	if len(out) != 1 || out[0].Method != proto.MethodTxidInf || out[0].Data[proto.KeyCoin] != "ltc" {
		t.Fatalf("expected ltc txidInf, got %+v", out)
	}
	tx := f.ltc.SentTransfers()
	if len(tx) != 1 || tx[0].Amount != 2 || tx[0].Addr != "ltc-addr" {
		t.Fatalf("unexpected ltc transfers: %+v", tx)
	}
	if f.swap.Pending() {
		t.Fatalf("swap should be idle")
	}
}

func TestSwapResponderFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	effects := f.swap.ProposeReceived(ctx, "swap-9", "ecc", "1", "ltc", "2")
	if len(emitted(effects)) != 0 {
		t.Fatalf("proposal must not be answered: %+v", effects)
	}
	if !strings.HasPrefix(reports(effects)[0], "swap proposed by peer") {
		t.Fatalf("proposal not reported: %v", reports(effects))
	}
	if f.swap.State != SwapProposalReceived || f.swap.Role != RoleResponder || f.swap.ID != "swap-9" {
		t.Fatalf("unexpected swap: %+v", f.swap)
	}
	out := emitted(f.swap.RequestReceived(ctx, "swap-9", "ecc", "ecc-addr"))
	if len(out) != 1 || out[0].Method != proto.MethodSwapRes {
		t.Fatalf("expected swapRes, got %+v", out)
	}
	if out[0].Data[proto.KeyUUID] != "swap-9" || out[0].Data[proto.KeyCoinTk] != "ltc" || out[0].Data[proto.KeyAddrTk] != "addr-1" {
		t.Fatalf("unexpected swapRes: %v", out[0].Data)
	}
	if f.swap.State != SwapAddressExchanged || f.swap.CounterAddr != "ecc-addr" {
		t.Fatalf("unexpected swap: %+v", f.swap)
	}
	if f.swap.TakeAddr != "addr-1" {
		t.Fatalf("take address not recorded: %+v", f.swap)
	}
	if effects := f.swap.Complete(ctx, "ecc", "2", "addr-1"); effects != nil {
		t.Fatalf("completion on the wrong coin: %+v", effects)
	}
	out = emitted(f.swap.Complete(ctx, "ltc", "2", "addr-1"))
	if len(out) != 1 || out[0].Data[proto.KeyCoin] != "ecc" || out[0].Data[proto.KeyAddr] != "ecc-addr" {
		t.Fatalf("unexpected completion: %+v", out)
	}
	tx := f.ecc.SentTransfers()
	if len(tx) != 1 || tx[0].Amount != 1 {
		t.Fatalf("unexpected ecc transfers: %+v", tx)
	}
	if f.swap.Pending() {
		t.Fatalf("swap should be idle")
	}
}

func TestSwapProposalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := [][5]string{
		{"id", "btc", "1", "ltc", "2"},
		{"id", "ecc", "1", "btc", "2"},
		{"id", "ecc", "x", "ltc", "2"},
		{"id", "ecc", "1", "ltc", "-2"},
		{"id", "ecc", "1", "ltc", "20"},
	}
	for _, c := range cases {
		effects := f.swap.ProposeReceived(ctx, c[0], c[1], c[2], c[3], c[4])
		if len(emitted(effects)) != 0 || f.swap.Pending() || len(reports(effects)) != 2 {
			t.Fatalf("proposal %v should be rejected: %+v", c, effects)
		}
	}
}

func TestSwapCompleteRequiresAgreedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.swap.ProposeReceived(ctx, "swap-9", "ecc", "1", "ltc", "2")
	f.swap.RequestReceived(ctx, "swap-9", "ecc", "ecc-addr")
	for _, c := range [][2]string{
		{"0.0001", "addr-1"},
		{"2", "someaddr"},
		{"", "addr-1"},
	} {
		if effects := f.swap.Complete(ctx, "ltc", c[0], c[1]); effects != nil {
			t.Fatalf("notice %v must not complete the swap: %+v", c, effects)
		}
		if f.swap.State != SwapAddressExchanged {
			t.Fatalf("swap should stay pending after %v: %+v", c, f.swap)
		}
	}
	if tx := f.ecc.SentTransfers(); len(tx) != 0 {
		t.Fatalf("unexpected ecc transfers: %+v", tx)
	}
	effects := f.swap.Timeout(f.swap.Timer)
	if reports(effects)[0] != "swap cancelled - timed out" || f.swap.Pending() {
		t.Fatalf("unexpected timeout: %+v", effects)
	}
}

func TestSwapSameAssetRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	effects := f.swap.Propose(ctx, "1", 0, "2", 0)
	if len(emitted(effects)) != 0 || f.swap.Pending() {
		t.Fatalf("same-asset proposal should be rejected: %+v", effects)
	}
	if r := reports(effects); len(r) != 1 || r[0] != "cannot swap ecc for itself" {
		t.Fatalf("unexpected reports: %v", r)
	}
	effects = f.swap.ProposeReceived(ctx, "swap-9", "ltc", "1", "ltc", "2")
	if len(emitted(effects)) != 0 || f.swap.Pending() || reports(effects)[1] != "cannot swap ltc for itself" {
		t.Fatalf("same-asset peer proposal should be rejected: %+v", effects)
	}
}

func TestSwapRequestMismatchedID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.swap.ProposeReceived(ctx, "swap-9", "ecc", "1", "ltc", "2")
	before := *f.swap
	if effects := f.swap.RequestReceived(ctx, "swap-x", "ecc", "ecc-addr"); effects != nil {
		t.Fatalf("mismatched id must emit nothing: %+v", effects)
	}
	if *f.swap != before {
		t.Fatalf("state mutated: %+v", f.swap)
	}
}

func TestSwapRequestWhenIdleDeclines(t *testing.T) {
	f := newFixture(t)
	out := emitted(f.swap.RequestReceived(context.Background(), "swap-x", "ecc", "ecc-addr"))
	if len(out) != 1 || out[0].Method != proto.MethodSwapRes {
		t.Fatalf("expected decline, got %+v", out)
	}
	if out[0].Data[proto.KeyUUID] != "" || out[0].Data[proto.KeyCoinTk] != "" || out[0].Data[proto.KeyAddrTk] != proto.DeclineAddr {
		t.Fatalf("unexpected decline data: %v", out[0].Data)
	}
}

func TestSwapRequestCoinMismatchAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.swap.ProposeReceived(ctx, "swap-9", "ecc", "1", "ltc", "2")
	effects := f.swap.RequestReceived(ctx, "swap-9", "ltc", "addr")
	if len(emitted(effects)) != 0 || !strings.HasPrefix(reports(effects)[0], "swap aborted") {
		t.Fatalf("unexpected effects: %+v", effects)
	}
	if f.swap.Pending() {
		t.Fatalf("swap should be aborted")
	}
}

func TestSwapProposerIgnoresRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.swap.Propose(ctx, "1", 0, "2", 1)
	id := f.swap.ID
	if effects := f.swap.RequestReceived(ctx, id, "ecc", "addr"); effects != nil {
		t.Fatalf("proposer must ignore swap requests: %+v", effects)
	}
}

func TestSwapTimeouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.swap.Propose(ctx, "1", 0, "2", 1)
	effects := f.swap.Timeout(f.swap.Timer)
	if reports(effects)[0] != "swap cancelled - no response from peer" || f.swap.Pending() {
		t.Fatalf("unexpected proposer timeout: %+v", effects)
	}
	f.swap.ProposeReceived(ctx, "swap-9", "ecc", "1", "ltc", "2")
	f.swap.RequestReceived(ctx, "swap-9", "ecc", "addr")
	effects = f.swap.Timeout(f.swap.Timer)
	if reports(effects)[0] != "swap cancelled - timed out" || f.swap.Pending() {
		t.Fatalf("unexpected responder timeout: %+v", effects)
	}
	if got := f.env.Metrics.Snapshot().Swap.TimedOut; got != 2 {
		t.Fatalf("timed out counter = %d", got)
	}
}

func TestSwapClearIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.swap.Clear()
	f.swap.Propose(context.Background(), "1", 0, "2", 1)
	f.swap.Clear()
	f.swap.Clear()
	if f.swap.Pending() || f.swap.ID != "" || f.swap.Timer != 0 {
		t.Fatalf("swap not cleared: %+v", f.swap)
	}
}
