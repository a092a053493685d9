package negotiate

import (
	"testing"
	"time"

	"ecchat/internal/asset"
	"ecchat/internal/ledger/ledgertest"
	"ecchat/internal/metrics"
)

type manualTimers struct {
	next      Handle
	armed     map[Handle]time.Duration
	cancelled map[Handle]bool
}

func newManualTimers() *manualTimers {
	return &manualTimers{armed: make(map[Handle]time.Duration), cancelled: make(map[Handle]bool)}
}

func (m *manualTimers) Arm(d time.Duration) Handle {
	m.next++
	m.armed[m.next] = d
	return m.next
}

func (m *manualTimers) Cancel(h Handle) {
	if _, ok := m.armed[h]; ok {
		delete(m.armed, h)
		m.cancelled[h] = true
	}
}

type fixture struct {
	env    *Env
	ecc    *ledgertest.Service
	ltc    *ledgertest.Service
	timers *manualTimers
	send   *Send
	swap   *Swap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ecc, ltc := ledgertest.New(), ledgertest.New()
	ecc.Balance, ltc.Balance = 10, 10
	reg, err := asset.NewRegistry(&asset.Asset{Symbol: "ecc", Service: ecc}, &asset.Asset{Symbol: "ltc", Service: ltc})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	timers := newManualTimers()
	env := &Env{Assets: reg, Ledger: reg, Timers: timers, Timeouts: DefaultTimeouts(), Metrics: metrics.New()}
	return &fixture{env: env, ecc: ecc, ltc: ltc, timers: timers, send: NewSend(env), swap: NewSwap(env)}
}

func emitted(effects []Effect) []Effect {
	var out []Effect
	for _, e := range effects {
		if e.Kind == EffectEmit {
			out = append(out, e)
		}
	}
	return out
}

func reports(effects []Effect) []string {
	var out []string
	for _, e := range effects {
		if e.Kind == EffectReport {
			out = append(out, e.Text)
		}
	}
	return out
}
