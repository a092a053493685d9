// Package ledger talks to the local ledger daemon: wallet calls, chain
// counters, routing, and the protocol relay buffer.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrWalletLocked        = errors.New("wallet locked")
	ErrAlreadyRegistered   = errors.New("relay buffer already registered")
	ErrInvalidAddressOrKey = errors.New("invalid address or key")
	ErrWarmingUp           = errors.New("daemon warming up")
	ErrUnreachable         = errors.New("daemon unreachable")
	ErrUnauthorized        = errors.New("rpc credentials rejected")
)

// Daemon error codes as returned in the JSON-RPC error object.
const (
	CodeInvalidAddressOrKey = -5
	CodeWalletUnlockNeeded  = -13
	CodeInWarmup            = -28
	CodeInternalError       = -32603
)

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	switch e.Code {
	case CodeWalletUnlockNeeded:
		return ErrWalletLocked
	case CodeInWarmup:
		return ErrWarmingUp
	case CodeInvalidAddressOrKey:
		return ErrInvalidAddressOrKey
	case CodeInternalError:
		return ErrAlreadyRegistered
	}
	return nil
}

// NotificationEndpoint is one publisher advertised by the daemon, e.g.
// {"type":"pubhashblock","address":"tcp://127.0.0.1:28001"}.
type NotificationEndpoint struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

const (
	EndpointHashBlock = "pubhashblock"
	EndpointPacket    = "pubpacket"
)

// Service is the subset of the daemon RPC surface ecchat relies on. One
// Service exists per configured coin; routing and relay calls are only
// made against the primary coin.
type Service interface {
	GetBalance(ctx context.Context) (float64, error)
	GetUnconfirmedBalance(ctx context.Context) (float64, error)
	GetNewAddress(ctx context.Context) (string, error)
	SendToAddress(ctx context.Context, addr string, amount float64, memo string) (string, error)
	GetBlockCount(ctx context.Context) (int64, error)
	GetConnectionCount(ctx context.Context) (int64, error)

	GetRoutingPubKey(ctx context.Context) (string, error)
	FindRoute(ctx context.Context, tag string) error
	HaveRoute(ctx context.Context, tag string) (bool, error)

	RegisterBuffer(ctx context.Context, protocolID int) (string, error)
	ReleaseBuffer(ctx context.Context, protocolID int, sig string) error
	ResetBufferTimeout(ctx context.Context, protocolID int, sig string) error
	BufferSignMessage(ctx context.Context, key, msg string) (string, error)
	GetBuffer(ctx context.Context, protocolID int, sig string) ([]string, error)
	SendPacket(ctx context.Context, tag string, protocolID, protocolVer int, data string) error

	GetNotificationEndpoints(ctx context.Context) ([]NotificationEndpoint, error)
}
