package notify

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"ecchat/internal/proto"
)

const (
	alpn          = "ecchat-notify"
	devServerName = "localhost"
	dialTimeout   = 5 * time.Second
	subscribeWord = "subscribe"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert derives a fixed self-signed certificate so bridge and clients
// agree on it without any key distribution.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("ecchat-bridge-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{devServerName},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func clientTLSConfig() (*tls.Config, error) {
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: devServerName,
		NextProtos: []string{alpn},
		MinVersion: tls.VersionTLS13,
	}, nil
}

func writeMessage(s *quic.Stream, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return proto.WriteFrame(s, data)
}

func readMessage(s *quic.Stream) (Message, error) {
	data, err := proto.ReadFrame(s, 0)
	if err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// QUICSubscriber reads a bridge's re-published feed.
type QUICSubscriber struct {
	Asset int
	Addr  string
	Log   *zap.Logger
}

func (q *QUICSubscriber) Run(ctx context.Context, out chan<- Signal) error {
	log := q.Log
	if log == nil {
		log = zap.NewNop()
	}
	failures := 0
	for {
		err := q.session(ctx, func(m Message) bool {
			failures = 0
			s, ok := SignalFor(q.Asset, m)
			if !ok {
				return true
			}
			return deliver(ctx, out, s)
		})
		if ctx.Err() != nil {
			return nil
		}
		failures++
		log.Warn("bridge feed lost", zap.String("addr", q.Addr), zap.Int("asset", q.Asset), zap.Error(err))
		if !backoff(ctx, failures) {
			return nil
		}
	}
}

func (q *QUICSubscriber) session(ctx context.Context, fn func(Message) bool) error {
	tlsConf, err := clientTLSConfig()
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := quic.DialAddr(dialCtx, q.Addr, tlsConf, &quic.Config{KeepAlivePeriod: 10 * time.Second})
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", q.Addr, err)
	}
	defer conn.CloseWithError(0, "")
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := writeMessage(stream, Message{Topic: subscribeWord}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.CloseWithError(0, "shutdown") })
	defer stop()
	for {
		m, err := readMessage(stream)
		if err != nil {
			return err
		}
		if !fn(m) {
			return nil
		}
	}
}
