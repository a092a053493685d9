package negotiate

import (
	"context"

	"ecchat/internal/proto"
)

type SendState int

const (
	SendIdle SendState = iota
	SendAwaitingAddress
)

func (s SendState) String() string {
	if s == SendAwaitingAddress {
		return "awaiting-address"
	}
	return "idle"
}

// Send is the single outbound transfer slot.
type Send struct {
	env *Env

	State  SendState
	Amount float64
	Asset  int
	Timer  Handle
}

func NewSend(env *Env) *Send {
	return &Send{env: env}
}

func (s *Send) Pending() bool { return s.State != SendIdle }

// Start requests a receive address from the peer for amountText of asset.
func (s *Send) Start(ctx context.Context, amountText string, asset int) []Effect {
	if s.Pending() {
		return []Effect{report("send already pending - %s %s", FormatAmount(s.Amount), s.env.Assets.Symbol(s.Asset))}
	}
	amount, err := ParseAmount(amountText)
	if err != nil {
		return []Effect{report("%v", err)}
	}
	coin := s.env.Assets.Symbol(asset)
	balance, err := s.env.Ledger.Balance(ctx, asset)
	if err != nil {
		return []Effect{report("%s balance unavailable: %v", coin, err)}
	}
	if amount >= balance {
		return []Effect{report("insufficient balance: %s %s available", FormatAmount(balance), coin)}
	}
	s.State = SendAwaitingAddress
	s.Amount = amount
	s.Asset = asset
	s.Timer = s.env.Timers.Arm(s.env.Timeouts.Send)
	s.env.Metrics.IncSendStarted()
	return []Effect{emit(proto.MethodAddrReq, proto.AddrReq(coin, proto.AddrTypeP2PKH))}
}

// AddressReceived handles the peer's address-response. Responses for
// another coin or while idle are ignored.
func (s *Send) AddressReceived(ctx context.Context, coin, addr string) []Effect {
	if !s.Pending() || coin != s.env.Assets.Symbol(s.Asset) {
		return nil
	}
	amount, asset := s.Amount, s.Asset
	s.Clear()
	if addr == proto.DeclineAddr || addr == "" {
		s.env.Metrics.IncSendDeclined()
		return []Effect{report("send of %s %s declined by peer", FormatAmount(amount), coin)}
	}
	out, t := s.env.transfer(ctx, asset, addr, amount, "ecchat send")
	if t.Err == nil {
		s.env.Metrics.IncSendCompleted()
	}
	return out
}

// Timeout handles a fired timer. Handles other than the armed one are
// ignored.
func (s *Send) Timeout(h Handle) []Effect {
	if !s.Pending() || h == 0 || h != s.Timer {
		return nil
	}
	amount, coin := s.Amount, s.env.Assets.Symbol(s.Asset)
	s.Clear()
	s.env.Metrics.IncSendTimedOut()
	return []Effect{report("send of %s %s cancelled - no address received", FormatAmount(amount), coin)}
}

// Clear cancels the timer and zeroes the slot. It is safe to call when idle.
func (s *Send) Clear() {
	if s.Timer != 0 {
		s.env.Timers.Cancel(s.Timer)
	}
	s.State = SendIdle
	s.Amount = 0
	s.Asset = 0
	s.Timer = 0
}
