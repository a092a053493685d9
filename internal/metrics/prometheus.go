package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
)

const maxScrapeConns = 4

var (
	descRelay = prometheus.NewDesc("ecchat_relay_total", "Relay operations by kind.", []string{"kind"}, nil)
	descSend  = prometheus.NewDesc("ecchat_send_total", "Send negotiations by outcome.", []string{"outcome"}, nil)
	descSwap  = prometheus.NewDesc("ecchat_swap_total", "Swap negotiations by outcome.", []string{"outcome"}, nil)
	descRecv  = prometheus.NewDesc("ecchat_recv_total", "Inbound envelopes by method.", []string{"method"}, nil)
	descDrop  = prometheus.NewDesc("ecchat_drop_total", "Dropped inbound entries by reason.", []string{"reason"}, nil)
	descConns = prometheus.NewDesc("ecchat_bridge_conns", "Open notification bridge connections.", nil, nil)
)

// Collector exposes a Metrics value to Prometheus. Values are read from a
// fresh Snapshot on every scrape.
type Collector struct {
	m *Metrics
}

func NewCollector(m *Metrics) *Collector {
	return &Collector{m: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRelay
	ch <- descSend
	ch <- descSwap
	ch <- descRecv
	ch <- descDrop
	ch <- descConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, label string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), label)
	}
	counter(descRelay, s.Relay.Polls, "poll")
	counter(descRelay, s.Relay.PollErrors, "poll_error")
	counter(descRelay, s.Relay.Sent, "sent")
	counter(descRelay, s.Relay.SendErrors, "send_error")
	counter(descRelay, s.Relay.DecodeErrors, "decode_error")
	counter(descRelay, s.Relay.Heartbeats, "heartbeat")
	counter(descSend, s.Send.Started, "started")
	counter(descSend, s.Send.Completed, "completed")
	counter(descSend, s.Send.Declined, "declined")
	counter(descSend, s.Send.TimedOut, "timed_out")
	counter(descSend, s.Send.WalletLocked, "wallet_locked")
	counter(descSwap, s.Swap.Proposed, "proposed")
	counter(descSwap, s.Swap.Received, "received")
	counter(descSwap, s.Swap.Completed, "completed")
	counter(descSwap, s.Swap.Refused, "refused")
	counter(descSwap, s.Swap.Aborted, "aborted")
	counter(descSwap, s.Swap.TimedOut, "timed_out")
	for method, v := range s.RecvByMethod {
		counter(descRecv, v, method)
	}
	for reason, v := range s.DropByReason {
		counter(descDrop, v, reason)
	}
	ch <- prometheus.MustNewConstMetric(descConns, prometheus.GaugeValue, float64(s.CurrentConns))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err = srv.Serve(netutil.LimitListener(ln, maxScrapeConns))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
