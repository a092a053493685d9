package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	MethodChatAdd = "chatAdd"
	MethodChatAck = "chatAck"
	MethodAddrReq = "addrReq"
	MethodAddrRes = "addrRes"
	MethodTxidInf = "txidInf"
	MethodSwapInf = "swapInf"
	MethodSwapReq = "swapReq"
	MethodSwapRes = "swapRes"
)

const (
	KeyUUID    = "uuid"
	KeyCommand = "cmmd"
	KeyText    = "text"
	KeyAble    = "able"
	KeyCoin    = "coin"
	KeyType    = "type"
	KeyAddr    = "addr"
	KeyAmount  = "amnt"
	KeyTxid    = "txid"
	KeyCoinGv  = "cogv"
	KeyAmtGv   = "amgv"
	KeyAddrGv  = "adgv"
	KeyCoinTk  = "cotk"
	KeyAmtTk   = "amtk"
	KeyAddrTk  = "adtk"
)

// DeclineAddr in an address field means the peer refused.
const DeclineAddr = "0"

// AddrTypeP2PKH is the only address type requested today.
const AddrTypeP2PKH = "P2PKH"

var ErrMalformedEnvelope = errors.New("malformed envelope")

var requiredKeys = map[string][]string{
	MethodChatAdd: {KeyUUID, KeyCommand, KeyText},
	MethodChatAck: {KeyUUID, KeyCommand, KeyAble},
	MethodAddrReq: {KeyCoin, KeyType},
	MethodAddrRes: {KeyCoin, KeyAddr},
	MethodTxidInf: {KeyCoin, KeyAmount, KeyAddr, KeyTxid},
	MethodSwapInf: {KeyUUID, KeyCoinGv, KeyAmtGv, KeyCoinTk, KeyAmtTk},
	MethodSwapReq: {KeyUUID, KeyCoinGv, KeyAddrGv},
	MethodSwapRes: {KeyUUID, KeyCoinTk, KeyAddrTk},
}

// Envelope is the packet exchanged through the relay. Data values are
// strings, bools or json.Number.
type Envelope struct {
	ID      int            `json:"id"`
	Version int            `json:"ver"`
	To      string         `json:"to"`
	From    string         `json:"from"`
	Method  string         `json:"meth"`
	Data    map[string]any `json:"data"`
}

func KnownMethod(m string) bool {
	_, ok := requiredKeys[m]
	return ok
}

func Encode(e Envelope) ([]byte, error) {
	if e.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrMalformedEnvelope)
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return json.Marshal(e)
}

func Decode(data []byte) (Envelope, error) {
	var raw struct {
		ID      *int           `json:"id"`
		Version *int           `json:"ver"`
		To      *string        `json:"to"`
		From    *string        `json:"from"`
		Method  *string        `json:"meth"`
		Data    map[string]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch {
	case raw.ID == nil:
		return Envelope{}, fmt.Errorf("%w: missing id", ErrMalformedEnvelope)
	case raw.Version == nil:
		return Envelope{}, fmt.Errorf("%w: missing ver", ErrMalformedEnvelope)
	case raw.To == nil:
		return Envelope{}, fmt.Errorf("%w: missing to", ErrMalformedEnvelope)
	case raw.From == nil:
		return Envelope{}, fmt.Errorf("%w: missing from", ErrMalformedEnvelope)
	case raw.Method == nil || *raw.Method == "":
		return Envelope{}, fmt.Errorf("%w: missing meth", ErrMalformedEnvelope)
	case raw.Data == nil:
		return Envelope{}, fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	for _, k := range requiredKeys[*raw.Method] {
		if _, ok := raw.Data[k]; !ok {
			return Envelope{}, fmt.Errorf("%w: %s missing %q", ErrMalformedEnvelope, *raw.Method, k)
		}
	}
	return Envelope{
		ID:      *raw.ID,
		Version: *raw.Version,
		To:      *raw.To,
		From:    *raw.From,
		Method:  *raw.Method,
		Data:    raw.Data,
	}, nil
}

// Str returns the data value for key rendered as a string; missing keys
// yield "".
func (e Envelope) Str(key string) string {
	switch v := e.Data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (e Envelope) Bool(key string) bool {
	switch v := e.Data[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func ChatAdd(uuid, text string) map[string]any {
	return map[string]any{KeyUUID: uuid, KeyCommand: "add", KeyText: text}
}

func ChatAck(uuid, cmmd string, able bool) map[string]any {
	return map[string]any{KeyUUID: uuid, KeyCommand: cmmd, KeyAble: able}
}

func AddrReq(coin, addrType string) map[string]any {
	return map[string]any{KeyCoin: coin, KeyType: addrType}
}

func AddrRes(coin, addr string) map[string]any {
	return map[string]any{KeyCoin: coin, KeyAddr: addr}
}

func TxidInf(coin, amount, addr, txid string) map[string]any {
	return map[string]any{KeyCoin: coin, KeyAmount: amount, KeyAddr: addr, KeyTxid: txid}
}

func SwapInf(uuid, coinGive, amountGive, coinTake, amountTake string) map[string]any {
	return map[string]any{KeyUUID: uuid, KeyCoinGv: coinGive, KeyAmtGv: amountGive, KeyCoinTk: coinTake, KeyAmtTk: amountTake}
}

func SwapReq(uuid, coinGive, addrGive string) map[string]any {
	return map[string]any{KeyUUID: uuid, KeyCoinGv: coinGive, KeyAddrGv: addrGive}
}

func SwapRes(uuid, coinTake, addrTake string) map[string]any {
	return map[string]any{KeyUUID: uuid, KeyCoinTk: coinTake, KeyAddrTk: addrTake}
}
