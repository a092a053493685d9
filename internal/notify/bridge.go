package notify

import (
	"context"
	"errors"
	"net"
	"sync"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"ecchat/internal/metrics"
)

const (
	defaultConnsPerIP = 4
	subscriberQueue   = 64
)

// Bridge re-publishes a daemon's ZMQ feed to QUIC subscribers.
type Bridge struct {
	Listen     string
	Upstream   string
	ConnsPerIP int
	Log        *zap.Logger
	Metrics    *metrics.Metrics

	mu    sync.Mutex
	subs  map[chan Message]struct{}
	addr  net.Addr
	ready chan struct{}
	once  sync.Once
}

func (b *Bridge) init() {
	b.once.Do(func() {
		b.subs = make(map[chan Message]struct{})
		b.ready = make(chan struct{})
		if b.Log == nil {
			b.Log = zap.NewNop()
		}
	})
}

// Ready is closed once the QUIC listener is bound.
func (b *Bridge) Ready() <-chan struct{} {
	b.init()
	return b.ready
}

func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Run serves until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	b.init()
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	ln, err := quic.ListenAddr(b.Listen, tlsConf, nil)
	if err != nil {
		return err
	}
	defer ln.Close()
	b.mu.Lock()
	b.addr = ln.Addr()
	b.mu.Unlock()
	close(b.ready)
	b.Log.Info("bridge listening", zap.String("addr", ln.Addr().String()), zap.String("upstream", b.Upstream))

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.pump(ctx)
	}()

	perIP := b.ConnsPerIP
	if perIP <= 0 {
		perIP = defaultConnsPerIP
	}
	lim := newConnLimiter(perIP)
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ip := hostOf(conn.RemoteAddr())
		if !lim.acquire(ip) {
			b.Metrics.IncDropByReason(metrics.DropRate)
			_ = conn.CloseWithError(1, "too many connections")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer lim.release(ip)
			b.serve(ctx, conn)
		}()
	}
}

// pump reads the upstream feed and fans it out, reconnecting as needed.
func (b *Bridge) pump(ctx context.Context) {
	failures := 0
	for {
		err := feed(ctx, b.Upstream, func(m Message) bool {
			failures = 0
			b.broadcast(m)
			return true
		})
		if ctx.Err() != nil {
			return
		}
		failures++
		b.Log.Warn("bridge upstream lost", zap.String("upstream", b.Upstream), zap.Error(err))
		if !backoff(ctx, failures) {
			return
		}
	}
}

func (b *Bridge) broadcast(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- m:
		default:
			// subscriber is behind; drop
		}
	}
}

func (b *Bridge) serve(ctx context.Context, conn *quic.Conn) {
	defer conn.CloseWithError(0, "")
	stop := context.AfterFunc(ctx, func() { _ = conn.CloseWithError(0, "shutdown") })
	defer stop()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return
	}
	hello, err := readMessage(stream)
	if err != nil || hello.Topic != subscribeWord {
		b.Log.Debug("bridge bad hello", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	ch := make(chan Message, subscriberQueue)
	b.Metrics.AddCurrentConns(1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		b.Metrics.AddCurrentConns(-1)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Context().Done():
			return
		case m := <-ch:
			if err := writeMessage(stream, m); err != nil {
				if !errors.Is(err, context.Canceled) {
					b.Log.Debug("bridge write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func hostOf(a net.Addr) string {
	if a == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}

type connLimiter struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

func newConnLimiter(max int) *connLimiter {
	return &connLimiter{max: max, counts: make(map[string]int)}
}

func (l *connLimiter) acquire(ip string) bool {
	if l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[ip] >= l.max {
		return false
	}
	l.counts[ip]++
	return true
}

func (l *connLimiter) release(ip string) {
	if l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[ip] <= 1 {
		delete(l.counts, ip)
		return
	}
	l.counts[ip]--
}
