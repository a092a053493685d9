// Package dispatch runs the single control loop that owns the negotiation
// state, the timer set and the asset cache.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"ecchat/internal/asset"
	"ecchat/internal/command"
	"ecchat/internal/crypto"
	"ecchat/internal/debuglog"
	"ecchat/internal/journal"
	"ecchat/internal/ledger"
	"ecchat/internal/metrics"
	"ecchat/internal/negotiate"
	"ecchat/internal/notify"
	"ecchat/internal/proto"
	"ecchat/internal/relay"
)

// Role tags a transcript line by its author.
type Role int

const (
	RoleSystem Role = iota
	RoleSelf
	RolePeer
)

// UI is the transcript and status collaborator.
type UI interface {
	Append(role Role, text string)
	SetStatus(text string)
}

var (
	ErrNoRoute    = errors.New("no route to peer")
	ErrInvalidTag = errors.New("invalid routing tag")
)

type Options struct {
	PeerTag     string
	ProtocolID  int
	ProtocolVer int
	Version     string

	Timeouts            negotiate.Timeouts
	StatusInterval      time.Duration
	MaintenanceInterval time.Duration
	// RateLimit caps inbound envelopes per sender per second; 0 disables.
	RateLimit int

	// DataDir receives metrics.json. Empty disables the snapshot.
	DataDir string
	Journal *journal.Store
	Metrics *metrics.Metrics
	Log     *zap.Logger
	Now     func() time.Time
}

type Dispatcher struct {
	opts    Options
	assets  *asset.Registry
	ui      UI
	log     *zap.Logger
	metrics *metrics.Metrics

	timers  *TimerSet
	session *relay.Session
	sender  *relay.Sender
	limiter *rateLimiter

	send *negotiate.Send
	swap *negotiate.Swap

	selfTag  string
	lastTxid string
	closed   bool
}

func New(assets *asset.Registry, ui UI, opts Options) *Dispatcher {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeouts == (negotiate.Timeouts{}) {
		opts.Timeouts = negotiate.DefaultTimeouts()
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 10 * time.Second
	}
	timers := NewTimerSet()
	env := &negotiate.Env{
		Assets:   assets,
		Ledger:   assets,
		Timers:   timers,
		Timeouts: opts.Timeouts,
		Metrics:  opts.Metrics,
	}
	return &Dispatcher{
		opts:    opts,
		assets:  assets,
		ui:      ui,
		log:     opts.Log,
		metrics: opts.Metrics,
		timers:  timers,
		session: relay.NewSession(assets.Primary().Service, opts.ProtocolID, opts.Log, opts.Metrics),
		limiter: newRateLimiter(opts.RateLimit, time.Second),
		send:    negotiate.NewSend(env),
		swap:    negotiate.NewSwap(env),
	}
}

func (d *Dispatcher) SelfTag() string { return d.selfTag }

func (d *Dispatcher) Send() *negotiate.Send { return d.send }

func (d *Dispatcher) Swap() *negotiate.Swap { return d.swap }

func (d *Dispatcher) LastTxID() string { return d.lastTxid }

// Start acquires everything the loop needs from the primary daemon. On
// error no relay session is held.
func (d *Dispatcher) Start(ctx context.Context) (err error) {
	svc := d.assets.Primary().Service
	self, err := svc.GetRoutingPubKey(ctx)
	switch {
	case errors.Is(err, ledger.ErrWarmingUp):
		return fmt.Errorf("local daemon is starting but not ready - try again after 60 seconds: %w", err)
	case errors.Is(err, ledger.ErrUnreachable), errors.Is(err, ledger.ErrUnauthorized):
		return fmt.Errorf("failed to connect - check that the local daemon is running and the rpc credentials: %w", err)
	case err != nil:
		return fmt.Errorf("getroutingpubkey: %w", err)
	}
	d.selfTag = self

	if _, err := crypto.DecodeTag(d.opts.PeerTag); err != nil {
		return fmt.Errorf("%w: routing tag has invalid base64 encoding: %s", ErrInvalidTag, d.opts.PeerTag)
	}

	if err := d.session.Register(ctx); err != nil {
		if errors.Is(err, ledger.ErrAlreadyRegistered) {
			return fmt.Errorf("relay buffer was not released previously - restart the local daemon to fix: %w", err)
		}
		return err
	}
	defer func() {
		if err != nil {
			if rerr := d.session.Release(context.WithoutCancel(ctx)); rerr != nil {
				d.log.Warn("release after failed start", zap.Error(rerr))
			}
		}
	}()

	if err := svc.FindRoute(ctx, d.opts.PeerTag); err != nil {
		if errors.Is(err, ledger.ErrInvalidAddressOrKey) {
			return fmt.Errorf("%w: routing tag has invalid base64 encoding: %s", ErrInvalidTag, d.opts.PeerTag)
		}
		return fmt.Errorf("findroute: %w", err)
	}
	ok, err := svc.HaveRoute(ctx, d.opts.PeerTag)
	if err != nil {
		return fmt.Errorf("haveroute: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no route available to: %s", ErrNoRoute, d.opts.PeerTag)
	}

	for i := 0; i < d.assets.Len(); i++ {
		a := d.assets.Get(i)
		eps, err := a.Service.GetNotificationEndpoints(ctx)
		if err != nil {
			d.log.Warn("notification endpoints unavailable", zap.String("coin", a.Symbol), zap.Error(err))
		} else {
			d.assets.ApplyEndpoints(i, eps)
		}
		if err := d.assets.Refresh(ctx, i); err != nil {
			d.log.Warn("initial refresh", zap.String("coin", a.Symbol), zap.Error(err))
		}
	}
	d.sender = relay.NewSender(svc, d.opts.ProtocolID, d.opts.ProtocolVer, d.selfTag, d.opts.PeerTag, d.metrics)
	d.log.Info("dispatcher started",
		zap.String("self", crypto.ShortTag(d.selfTag)),
		zap.String("peer", crypto.ShortTag(d.opts.PeerTag)),
		zap.Int("protocol_id", d.opts.ProtocolID))
	return nil
}

// NotificationSources builds one source per asset from the daemon's
// advertised endpoints. overrides replaces the endpoint of an asset index;
// an overridden asset is treated as fully notifying.
func (d *Dispatcher) NotificationSources(overrides map[int]string) ([]notify.Source, error) {
	var out []notify.Source
	for i := 0; i < d.assets.Len(); i++ {
		a := d.assets.Get(i)
		endpoint := overrides[i]
		if endpoint != "" {
			a.Notify = true
			a.RelayReady = i == asset.Primary
		} else {
			for _, ep := range a.Endpoints {
				if ep.Type == ledger.EndpointHashBlock || ep.Type == ledger.EndpointPacket {
					endpoint = ep.Address
					break
				}
			}
		}
		if endpoint == "" {
			continue
		}
		src, err := notify.New(i, endpoint, d.log.With(zap.String("coin", a.Symbol)))
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// Close releases the relay and stops every timer. It may be called more
// than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.send.Clear()
	d.swap.Clear()
	d.timers.Stop()
	d.writeSnapshot()
	return d.session.Release(ctx)
}

// Run is the control loop. It returns nil when input closes, a quit command
// arrives or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, input <-chan string, signals <-chan notify.Signal) error {
	if d.sender == nil {
		return errors.New("dispatcher not started")
	}
	status := time.NewTicker(d.opts.StatusInterval)
	defer status.Stop()
	maint := time.NewTicker(d.opts.MaintenanceInterval)
	defer maint.Stop()
	d.ui.SetStatus(d.statusLine())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			if d.HandleLine(ctx, line) {
				return nil
			}
		case sig := <-signals:
			d.HandleSignal(ctx, sig)
		case h := <-d.timers.C():
			d.HandleTimer(ctx, h)
		case <-status.C:
			d.ui.SetStatus(d.statusLine())
		case <-maint.C:
			d.Maintain(ctx)
		}
	}
}

func (d *Dispatcher) statusLine() string {
	return d.assets.Status() + "  " + d.opts.Now().Format("[15:04:05]")
}

func (d *Dispatcher) HandleSignal(ctx context.Context, sig notify.Signal) {
	switch sig.Kind {
	case notify.KindPacket:
		if sig.Asset != asset.Primary {
			return
		}
		if sig.ProtocolID != 0 && sig.ProtocolID != d.opts.ProtocolID {
			return
		}
		d.poll(ctx)
	case notify.KindBlock:
		if err := d.assets.Refresh(ctx, sig.Asset); err != nil {
			debuglog.RateLimitedf("refresh", 30*time.Second, "refresh asset %d: %v", sig.Asset, err)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	envs, err := d.session.Poll(ctx)
	if err != nil {
		debuglog.RateLimitedf("poll", 30*time.Second, "relay poll: %v", err)
		return
	}
	for _, env := range envs {
		d.HandleEnvelope(ctx, env)
	}
}

func (d *Dispatcher) HandleTimer(ctx context.Context, h negotiate.Handle) {
	d.apply(ctx, d.send.Timeout(h))
	d.apply(ctx, d.swap.Timeout(h))
}

// Maintain runs the slow periodic work: polling counters of assets without
// block notifications, the relay heartbeat and the metrics snapshot.
func (d *Dispatcher) Maintain(ctx context.Context) {
	for i := 0; i < d.assets.Len(); i++ {
		if d.assets.Get(i).Notify {
			continue
		}
		if err := d.assets.Refresh(ctx, i); err != nil {
			debuglog.RateLimitedf("refresh", 30*time.Second, "refresh asset %d: %v", i, err)
		}
	}
	if !d.assets.Primary().RelayReady {
		d.poll(ctx)
	}
	if err := d.session.Heartbeat(ctx); err != nil {
		d.log.Warn("relay heartbeat", zap.Error(err))
	}
	d.writeSnapshot()
}

func (d *Dispatcher) writeSnapshot() {
	if d.opts.DataDir == "" || d.metrics == nil {
		return
	}
	if err := d.metrics.WriteSnapshot(filepath.Join(d.opts.DataDir, "metrics.json")); err != nil {
		debuglog.RateLimitedf("snapshot", time.Minute, "metrics snapshot: %v", err)
	}
}

func (d *Dispatcher) report(format string, args ...any) {
	d.ui.Append(RoleSystem, fmt.Sprintf(format, args...))
}

func (d *Dispatcher) emit(ctx context.Context, method string, data map[string]any) {
	if err := d.sender.Send(ctx, method, data); err != nil {
		d.log.Warn("emit failed", zap.String("method", method), zap.Error(err))
		d.report("%s not delivered: %v", method, err)
	}
}

// apply carries out negotiation effects in order.
func (d *Dispatcher) apply(ctx context.Context, effects []negotiate.Effect) {
	for _, e := range effects {
		switch e.Kind {
		case negotiate.EffectEmit:
			d.emit(ctx, e.Method, e.Data)
		case negotiate.EffectReport:
			d.report("%s", e.Text)
		case negotiate.EffectTransfer:
			d.recordTransfer(journal.DirectionOut, e.Transfer.Coin, e.Transfer.Amount, e.Transfer.Addr, e.Transfer.TxID, e.Transfer.Err)
		}
	}
}

func (d *Dispatcher) recordTransfer(direction, coin, amount, addr, txid string, cause error) {
	if txid != "" {
		d.lastTxid = txid
	}
	d.metrics.RecordTransfer(metrics.Transfer{Direction: direction, Coin: coin, Amount: amount, Addr: addr, TxID: txid})
	d.log.Info("transfer",
		zap.String("direction", direction),
		zap.String("coin", coin),
		zap.String("amount", amount),
		zap.String("addr", addr),
		zap.String("txid", txid),
		zap.Error(cause))
	if d.opts.Journal == nil {
		return
	}
	entry, err := journal.NewEntry(direction, d.opts.PeerTag, coin, amount, addr, txid)
	if err != nil {
		d.log.Warn("journal entry", zap.Error(err))
		return
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := d.opts.Journal.Add(entry); err != nil {
		d.log.Warn("journal append", zap.Error(err))
	}
}

// HandleLine processes one submitted input line and reports whether the
// user asked to quit.
func (d *Dispatcher) HandleLine(ctx context.Context, line string) bool {
	in := command.Parse(line, d.assets)
	if in.Kind == command.KindNone {
		return false
	}
	d.ui.Append(RoleSelf, line)
	switch in.Kind {
	case command.KindQuit:
		d.log.Info("quit requested", zap.String("command", in.Text))
		return true
	case command.KindChat:
		d.emit(ctx, proto.MethodChatAdd, proto.ChatAdd(in.UUID, in.Text))
	case command.KindHelp:
		for _, h := range command.HelpLines {
			d.report("%-18s - %s", h.Command, h.Text)
		}
	case command.KindVersion:
		d.report("%s", d.opts.Version)
	case command.KindBlocks:
		a := d.assets.Get(in.Asset)
		if n, err := a.Service.GetBlockCount(ctx); err != nil {
			d.report("%s blocks unavailable: %v", a.Symbol, err)
		} else {
			a.Blocks = n
			d.report("%d", n)
		}
	case command.KindPeers:
		a := d.assets.Get(in.Asset)
		if n, err := a.Service.GetConnectionCount(ctx); err != nil {
			d.report("%s peers unavailable: %v", a.Symbol, err)
		} else {
			a.Peers = n
			d.report("%d", n)
		}
	case command.KindTag:
		d.report("%s", d.selfTag)
	case command.KindBalance:
		d.reportBalance(ctx, in.Asset)
	case command.KindAddress:
		coin := d.assets.Symbol(in.Asset)
		if addr, err := d.assets.NewAddress(ctx, in.Asset); err != nil {
			d.report("%s address unavailable: %v", coin, err)
		} else {
			d.report("%s", addr)
		}
	case command.KindTxid:
		if d.lastTxid == "" {
			d.report("TxID = none")
		} else {
			d.report("TxID = %s", d.lastTxid)
		}
	case command.KindSend:
		d.apply(ctx, d.send.Start(ctx, in.Amount, in.Asset))
	case command.KindSwap:
		d.apply(ctx, d.swap.Propose(ctx, in.GiveAmount, in.GiveAsset, in.TakeAmount, in.TakeAsset))
	case command.KindExecute:
		d.apply(ctx, d.swap.Execute(ctx))
	case command.KindUnknown:
		d.report("unknown command: %s", in.Text)
	case command.KindError:
		d.report("%s", in.Text)
	}
	return false
}

func (d *Dispatcher) reportBalance(ctx context.Context, i int) {
	coin := d.assets.Symbol(i)
	bal, err := d.assets.Balance(ctx, i)
	if err != nil {
		d.report("%s balance unavailable: %v", coin, err)
		return
	}
	unconf, err := d.assets.UnconfirmedBalance(ctx, i)
	if err != nil || unconf == 0 {
		d.report("%s %s", negotiate.FormatAmount(bal), coin)
		return
	}
	d.report("%s %s (%s unconfirmed)", negotiate.FormatAmount(bal), coin, negotiate.FormatAmount(unconf))
}

// HandleEnvelope routes one inbound envelope by method.
func (d *Dispatcher) HandleEnvelope(ctx context.Context, env proto.Envelope) {
	if env.From != d.opts.PeerTag {
		d.metrics.IncDropByReason(metrics.DropForeign)
		d.log.Debug("drop foreign envelope", zap.String("from", crypto.ShortTag(env.From)), zap.String("method", env.Method))
		return
	}
	if !d.limiter.Allow(env.From) {
		d.metrics.IncDropByReason(metrics.DropRate)
		debuglog.RateLimitedf("inbound-rate", 10*time.Second, "inbound rate limit hit for %s", crypto.ShortTag(env.From))
		return
	}
	if !proto.KnownMethod(env.Method) {
		d.metrics.IncDropByReason(metrics.DropUnknown)
		return
	}
	d.metrics.IncRecvByMethod(env.Method)
	d.log.Debug("recv", zap.String("method", env.Method))
	switch env.Method {
	case proto.MethodChatAdd:
		d.ui.Append(RolePeer, env.Str(proto.KeyText))
		d.emit(ctx, proto.MethodChatAck, proto.ChatAck(env.Str(proto.KeyUUID), "add", true))
	case proto.MethodChatAck:
		// delivery markers are not shown
	case proto.MethodAddrReq:
		d.answerAddressRequest(ctx, env.Str(proto.KeyCoin))
	case proto.MethodAddrRes:
		d.apply(ctx, d.send.AddressReceived(ctx, env.Str(proto.KeyCoin), env.Str(proto.KeyAddr)))
	case proto.MethodTxidInf:
		d.transferReceived(ctx, env)
	case proto.MethodSwapInf:
		d.apply(ctx, d.swap.ProposeReceived(ctx, env.Str(proto.KeyUUID),
			env.Str(proto.KeyCoinGv), env.Str(proto.KeyAmtGv), env.Str(proto.KeyCoinTk), env.Str(proto.KeyAmtTk)))
	case proto.MethodSwapReq:
		d.apply(ctx, d.swap.RequestReceived(ctx, env.Str(proto.KeyUUID), env.Str(proto.KeyCoinGv), env.Str(proto.KeyAddrGv)))
	case proto.MethodSwapRes:
		d.apply(ctx, d.swap.ResponseReceived(ctx, env.Str(proto.KeyUUID), env.Str(proto.KeyCoinTk), env.Str(proto.KeyAddrTk)))
	}
}

func (d *Dispatcher) answerAddressRequest(ctx context.Context, coin string) {
	addr := proto.DeclineAddr
	if i, ok := d.assets.Lookup(coin); ok {
		a, err := d.assets.NewAddress(ctx, i)
		if err != nil {
			d.log.Warn("address for peer", zap.String("coin", coin), zap.Error(err))
		} else {
			addr = a
		}
	}
	if addr == proto.DeclineAddr {
		d.report("address request for %s declined", coin)
	}
	d.emit(ctx, proto.MethodAddrRes, proto.AddrRes(coin, addr))
}

func (d *Dispatcher) transferReceived(ctx context.Context, env proto.Envelope) {
	coin, amount, addr, txid := env.Str(proto.KeyCoin), env.Str(proto.KeyAmount), env.Str(proto.KeyAddr), env.Str(proto.KeyTxid)
	if txid == "" {
		d.report("peer transfer of %s %s failed", amount, coin)
	} else {
		d.report("%s %s received TxID = %s", amount, coin, txid)
	}
	d.recordTransfer(journal.DirectionIn, coin, amount, addr, txid, nil)
	if txid != "" {
		d.apply(ctx, d.swap.Complete(ctx, coin, amount, addr))
	}
}
