// Package negotiate implements the send and swap conversations as explicit
// state machines. Transitions return the effects the caller must carry out
// in order; timers and ledger calls go through injected ports.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecchat/internal/ledger"
	"ecchat/internal/metrics"
	"ecchat/internal/proto"
)

// Handle identifies one armed timer. The zero Handle is never armed.
type Handle uint64

type Timers interface {
	Arm(d time.Duration) Handle
	// Cancel is a no-op for fired, cancelled or zero handles.
	Cancel(h Handle)
}

type Ledger interface {
	Balance(ctx context.Context, asset int) (float64, error)
	NewAddress(ctx context.Context, asset int) (string, error)
	Transfer(ctx context.Context, asset int, addr string, amount float64, memo string) (string, error)
}

type Assets interface {
	Symbol(asset int) string
	Lookup(symbol string) (int, bool)
}

type Timeouts struct {
	Send        time.Duration
	SwapPropose time.Duration
	SwapStep    time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Send: 10 * time.Second, SwapPropose: 60 * time.Second, SwapStep: 10 * time.Second}
}

// Env is shared by both negotiations.
type Env struct {
	Assets   Assets
	Ledger   Ledger
	Timers   Timers
	Timeouts Timeouts
	Metrics  *metrics.Metrics
}

type EffectKind int

const (
	// EffectEmit sends Method/Data to the peer.
	EffectEmit EffectKind = iota + 1
	// EffectReport appends Text to the transcript as a system line.
	EffectReport
	// EffectTransfer records an outbound transfer attempt.
	EffectTransfer
)

type Effect struct {
	Kind     EffectKind
	Method   string
	Data     map[string]any
	Text     string
	Transfer *Transfer
}

// Transfer describes a completed outbound transfer attempt. TxID is empty
// when the ledger refused it.
type Transfer struct {
	Coin   string
	Amount string
	Addr   string
	TxID   string
	Err    error
}

func emit(method string, data map[string]any) Effect {
	return Effect{Kind: EffectEmit, Method: method, Data: data}
}

func report(format string, args ...any) Effect {
	return Effect{Kind: EffectReport, Text: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountPositive = errors.New("amount must be positive")
)

// ParseAmount accepts a finite decimal strictly greater than zero.
func ParseAmount(text string) (float64, error) {
	s := strings.TrimSpace(text)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, text)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrAmountPositive, text)
	}
	return v, nil
}

func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewID generates swap negotiation ids.
var NewID = func() string { return uuid.New().String() }

// transfer pays amount on asset to addr and returns the effects shared by
// every outbound payment. A refused transfer still emits txidInf, with an
// empty txid.
func (e *Env) transfer(ctx context.Context, asset int, addr string, amount float64, memo string) ([]Effect, *Transfer) {
	coin := e.Assets.Symbol(asset)
	amt := FormatAmount(amount)
	txid, err := e.Ledger.Transfer(ctx, asset, addr, amount, memo)
	var out []Effect
	switch {
	case errors.Is(err, ledger.ErrWalletLocked):
		e.Metrics.IncWalletLocked()
		txid = ""
		out = append(out, report("wallet locked - %s %s not sent", amt, coin))
	case err != nil:
		txid = ""
		out = append(out, report("transfer of %s %s failed: %v", amt, coin, err))
	default:
		out = append(out, report("%s %s sent to %s", amt, coin, addr))
	}
	t := &Transfer{Coin: coin, Amount: amt, Addr: addr, TxID: txid, Err: err}
	out = append(out,
		Effect{Kind: EffectTransfer, Transfer: t},
		emit(proto.MethodTxidInf, proto.TxidInf(coin, amt, addr, txid)),
	)
	return out, t
}
