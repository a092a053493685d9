package negotiate

import (
	"context"
	"time"

	"ecchat/internal/proto"
)

type SwapState int

const (
	SwapIdle SwapState = iota
	SwapProposed
	SwapProposalReceived
	SwapAddressExchanged
)

func (s SwapState) String() string {
	switch s {
	case SwapProposed:
		return "proposed"
	case SwapProposalReceived:
		return "proposal-received"
	case SwapAddressExchanged:
		return "address-exchanged"
	}
	return "idle"
}

type Role int

const (
	RoleNone Role = iota
	RoleProposer
	RoleResponder
)

// Swap is the single two-asset exchange slot, shared by both roles. Give
// and take are always from the proposer's point of view.
type Swap struct {
	env *Env

	State SwapState
	Role  Role
	ID    string
	Timer Handle

	GiveAmount float64
	GiveAsset  int
	TakeAmount float64
	TakeAsset  int

	// CounterAddr is the proposer's give-asset address, known to the
	// responder once the swap-request arrives.
	CounterAddr string
	// TakeAddr is the take-asset address the responder handed out.
	TakeAddr string
}

func NewSwap(env *Env) *Swap {
	return &Swap{env: env}
}

func (s *Swap) Pending() bool { return s.State != SwapIdle }

func (s *Swap) rearm(d time.Duration) {
	if s.Timer != 0 {
		s.env.Timers.Cancel(s.Timer)
	}
	s.Timer = s.env.Timers.Arm(d)
}

func (s *Swap) describe() string {
	return FormatAmount(s.GiveAmount) + " " + s.env.Assets.Symbol(s.GiveAsset) +
		" for " + FormatAmount(s.TakeAmount) + " " + s.env.Assets.Symbol(s.TakeAsset)
}

// Propose replaces any pending swap with a new proposal.
func (s *Swap) Propose(ctx context.Context, giveText string, giveAsset int, takeText string, takeAsset int) []Effect {
	s.Clear()
	if giveAsset == takeAsset {
		return []Effect{report("cannot swap %s for itself", s.env.Assets.Symbol(giveAsset))}
	}
	give, err := ParseAmount(giveText)
	if err != nil {
		return []Effect{report("%v", err)}
	}
	take, err := ParseAmount(takeText)
	if err != nil {
		return []Effect{report("%v", err)}
	}
	giveCoin, takeCoin := s.env.Assets.Symbol(giveAsset), s.env.Assets.Symbol(takeAsset)
	balance, err := s.env.Ledger.Balance(ctx, giveAsset)
	if err != nil {
		return []Effect{report("%s balance unavailable: %v", giveCoin, err)}
	}
	if give >= balance {
		return []Effect{report("insufficient balance: %s %s available", FormatAmount(balance), giveCoin)}
	}
	s.State = SwapProposed
	s.Role = RoleProposer
	s.ID = NewID()
	s.GiveAmount, s.GiveAsset = give, giveAsset
	s.TakeAmount, s.TakeAsset = take, takeAsset
	s.rearm(s.env.Timeouts.SwapPropose)
	s.env.Metrics.IncSwapProposed()
	return []Effect{
		emit(proto.MethodSwapInf, proto.SwapInf(s.ID, giveCoin, FormatAmount(give), takeCoin, FormatAmount(take))),
		report("swap proposed: %s", s.describe()),
	}
}

// Execute asks the responder to go ahead with the proposed swap.
func (s *Swap) Execute(ctx context.Context) []Effect {
	if s.State != SwapProposed || s.Role != RoleProposer {
		return []Effect{report("no swap available")}
	}
	coin := s.env.Assets.Symbol(s.GiveAsset)
	addr, err := s.env.Ledger.NewAddress(ctx, s.GiveAsset)
	if err != nil {
		return []Effect{report("%s address unavailable: %v", coin, err)}
	}
	s.rearm(s.env.Timeouts.SwapStep)
	return []Effect{emit(proto.MethodSwapReq, proto.SwapReq(s.ID, coin, addr))}
}

// ResponseReceived handles the responder's swap-response. A refusal is
// honoured for the pending id or an empty id.
func (s *Swap) ResponseReceived(ctx context.Context, id, coinTake, addrTake string) []Effect {
	if s.State != SwapProposed || s.Role != RoleProposer {
		return nil
	}
	if addrTake == proto.DeclineAddr && (id == s.ID || id == "") {
		s.Clear()
		s.env.Metrics.IncSwapRefused()
		return []Effect{report("swap refused by peer")}
	}
	if id != s.ID || coinTake != s.env.Assets.Symbol(s.TakeAsset) {
		return nil
	}
	asset, amount := s.TakeAsset, s.TakeAmount
	s.Clear()
	out, t := s.env.transfer(ctx, asset, addrTake, amount, "ecchat swap")
	if t.Err == nil {
		s.env.Metrics.IncSwapCompleted()
	}
	return out
}

// ProposeReceived takes on the responder role for an incoming proposal.
func (s *Swap) ProposeReceived(ctx context.Context, id, coinGive, amountGive, coinTake, amountTake string) []Effect {
	out := []Effect{report("swap proposed by peer: %s %s for %s %s", amountGive, coinGive, amountTake, coinTake)}
	s.Clear()
	fail := func(format string, args ...any) []Effect {
		return append(out, report(format, args...))
	}
	if id == "" {
		return fail("swap proposal without id ignored")
	}
	giveAsset, ok := s.env.Assets.Lookup(coinGive)
	if !ok {
		return fail("unknown coin symbol: %s", coinGive)
	}
	takeAsset, ok := s.env.Assets.Lookup(coinTake)
	if !ok {
		return fail("unknown coin symbol: %s", coinTake)
	}
	if giveAsset == takeAsset {
		return fail("cannot swap %s for itself", coinGive)
	}
	give, err := ParseAmount(amountGive)
	if err != nil {
		return fail("%v", err)
	}
	take, err := ParseAmount(amountTake)
	if err != nil {
		return fail("%v", err)
	}
	balance, err := s.env.Ledger.Balance(ctx, takeAsset)
	if err != nil {
		return fail("%s balance unavailable: %v", coinTake, err)
	}
	if take >= balance {
		return fail("insufficient balance: %s %s available", FormatAmount(balance), coinTake)
	}
	s.State = SwapProposalReceived
	s.Role = RoleResponder
	s.ID = id
	s.GiveAmount, s.GiveAsset = give, giveAsset
	s.TakeAmount, s.TakeAsset = take, takeAsset
	s.rearm(s.env.Timeouts.SwapPropose)
	s.env.Metrics.IncSwapReceived()
	return append(out, report("waiting for peer to execute the swap"))
}

// RequestReceived answers the proposer's swap-request with a take-asset
// address.
func (s *Swap) RequestReceived(ctx context.Context, id, coinGive, addrGive string) []Effect {
	if !s.Pending() {
		return []Effect{emit(proto.MethodSwapRes, proto.SwapRes("", "", proto.DeclineAddr))}
	}
	if s.Role != RoleResponder || id != s.ID || s.State != SwapProposalReceived {
		return nil
	}
	if coinGive != s.env.Assets.Symbol(s.GiveAsset) {
		s.Clear()
		s.env.Metrics.IncSwapAborted()
		return []Effect{report("swap aborted - peer requested %s, proposal was for %s", coinGive, s.env.Assets.Symbol(s.GiveAsset))}
	}
	coinTake := s.env.Assets.Symbol(s.TakeAsset)
	addr, err := s.env.Ledger.NewAddress(ctx, s.TakeAsset)
	if err != nil {
		s.Clear()
		s.env.Metrics.IncSwapAborted()
		return []Effect{
			report("swap aborted - %s address unavailable: %v", coinTake, err),
			emit(proto.MethodSwapRes, proto.SwapRes(id, coinTake, proto.DeclineAddr)),
		}
	}
	s.CounterAddr = addrGive
	s.TakeAddr = addr
	s.State = SwapAddressExchanged
	s.rearm(s.env.Timeouts.SwapStep)
	return []Effect{emit(proto.MethodSwapRes, proto.SwapRes(id, coinTake, addr))}
}

// Complete pays the responder's side once the proposer's transfer-info for
// the take asset has arrived. The notice must carry the agreed take amount
// and the address handed out in the swap-response; anything else leaves the
// swap pending until it times out.
func (s *Swap) Complete(ctx context.Context, coin, amount, addr string) []Effect {
	if s.State != SwapAddressExchanged || s.Role != RoleResponder || coin != s.env.Assets.Symbol(s.TakeAsset) {
		return nil
	}
	if amount != FormatAmount(s.TakeAmount) || addr != s.TakeAddr {
		return nil
	}
	asset, give, to := s.GiveAsset, s.GiveAmount, s.CounterAddr
	s.Clear()
	out, t := s.env.transfer(ctx, asset, to, give, "ecchat swap")
	if t.Err == nil {
		s.env.Metrics.IncSwapCompleted()
	}
	return out
}

func (s *Swap) Timeout(h Handle) []Effect {
	if !s.Pending() || h == 0 || h != s.Timer {
		return nil
	}
	state := s.State
	s.Clear()
	s.env.Metrics.IncSwapTimedOut()
	if state == SwapProposed {
		return []Effect{report("swap cancelled - no response from peer")}
	}
	return []Effect{report("swap cancelled - timed out")}
}

// Clear cancels the timer and zeroes every field. It is safe to call when
// idle.
func (s *Swap) Clear() {
	if s.Timer != 0 {
		s.env.Timers.Cancel(s.Timer)
	}
	*s = Swap{env: s.env}
}
