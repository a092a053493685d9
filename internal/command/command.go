// Package command classifies one line of user input.
package command

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind int

const (
	KindNone Kind = iota
	KindChat
	KindHelp
	KindVersion
	KindBlocks
	KindPeers
	KindTag
	KindBalance
	KindAddress
	KindTxid
	KindSend
	KindSwap
	KindExecute
	KindQuit
	KindUnknown
	KindError
)

// Resolver maps an asset symbol to its registry index.
type Resolver interface {
	Lookup(symbol string) (int, bool)
}

// Intent is the parsed form of one input line. Amounts stay as typed;
// numeric validation belongs to the negotiation that consumes them.
type Intent struct {
	Kind Kind
	// Text is the chat line, the quit verb, the unknown command or the
	// error message depending on Kind.
	Text string
	UUID string

	Asset  int
	Amount string

	GiveAmount string
	GiveAsset  int
	TakeAmount string
	TakeAsset  int
}

// NewID generates chat message ids.
var NewID = func() string { return uuid.New().String() }

type Help struct {
	Command string
	Text    string
}

var HelpLines = []Help{
	{"/help", "display help information"},
	{"/exit", "exit - also /quit and ESC"},
	{"/version", "display ecchat version info"},
	{"/blocks [sym]", "display block count"},
	{"/peers [sym]", "display peer count"},
	{"/tag", "display own routing tag"},
	{"/balance [sym]", "display wallet balance"},
	{"/address [sym]", "display a new receive address"},
	{"/send x [sym]", "send x to other party"},
	{"/swap x a for y b", "propose swapping x of a for y of b"},
	{"/execute", "execute the proposed swap"},
	{"/txid", "display TxID of last transfer"},
}

const (
	usageSend = "usage: /send <amount> [symbol]"
	usageSwap = "usage: /swap <amountGive> <symbolGive> for <amountTake> <symbolTake>"
)

func Parse(line string, r Resolver) Intent {
	if strings.TrimSpace(line) == "" {
		return Intent{Kind: KindNone}
	}
	if !strings.HasPrefix(line, "/") {
		return Intent{Kind: KindChat, Text: line, UUID: NewID()}
	}
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/exit", "/quit":
		return Intent{Kind: KindQuit, Text: strings.TrimPrefix(name, "/")}
	case "/help":
		return Intent{Kind: KindHelp}
	case "/version":
		return Intent{Kind: KindVersion}
	case "/tag":
		return Intent{Kind: KindTag}
	case "/txid":
		return Intent{Kind: KindTxid}
	case "/execute":
		return Intent{Kind: KindExecute}
	case "/blocks":
		return withSymbol(KindBlocks, name, args, r)
	case "/peers":
		return withSymbol(KindPeers, name, args, r)
	case "/balance":
		return withSymbol(KindBalance, name, args, r)
	case "/address":
		return withSymbol(KindAddress, name, args, r)
	case "/send":
		if len(args) < 1 || len(args) > 2 {
			return errorf(usageSend)
		}
		in := withSymbol(KindSend, name, args[1:], r)
		if in.Kind == KindError {
			return in
		}
		in.Amount = args[0]
		return in
	case "/swap":
		if len(args) != 5 || args[2] != "for" {
			return errorf(usageSwap)
		}
		give, ok := r.Lookup(args[1])
		if !ok {
			return errorf("unknown coin symbol: %s", args[1])
		}
		take, ok := r.Lookup(args[4])
		if !ok {
			return errorf("unknown coin symbol: %s", args[4])
		}
		if give == take {
			return errorf("cannot swap %s for itself", args[1])
		}
		return Intent{Kind: KindSwap, GiveAmount: args[0], GiveAsset: give, TakeAmount: args[3], TakeAsset: take}
	}
	return Intent{Kind: KindUnknown, Text: name}
}

// withSymbol resolves the optional trailing symbol, defaulting to the
// primary asset (index 0).
func withSymbol(kind Kind, name string, args []string, r Resolver) Intent {
	switch len(args) {
	case 0:
		return Intent{Kind: kind}
	case 1:
		i, ok := r.Lookup(args[0])
		if !ok {
			return errorf("unknown coin symbol: %s", args[0])
		}
		return Intent{Kind: kind, Asset: i}
	}
	return errorf("usage: %s [symbol]", name)
}

func errorf(format string, args ...any) Intent {
	return Intent{Kind: KindError, Text: fmt.Sprintf(format, args...)}
}
