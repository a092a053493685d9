package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"topic":"hashblock","body":"AA=="}`)
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	got, err := ReadFrame(bytes.NewReader(frame), 0)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(payload, got) {
		t.Fatalf("payload mismatch")
	}
	if _, err := ReadFrame(bytes.NewReader(frame), 8); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("limit not enforced: %v", err)
	}
	if _, err := EncodeFrame(nil); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("empty payload accepted: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader(frame[:len(frame)-1]), 0); err == nil {
		t.Fatal("truncated frame accepted")
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil || !bytes.Equal(buf.Bytes(), frame) {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []Envelope{
		{ID: 1, Version: 1, To: "AtagB", From: "AtagA", Method: MethodChatAdd, Data: ChatAdd("u-1", "hello there")},
		{ID: 1, Version: 1, To: "AtagB", From: "AtagA", Method: MethodChatAck, Data: ChatAck("u-1", "add", true)},
		{ID: 1, Version: 1, To: "AtagB", From: "AtagA", Method: MethodAddrReq, Data: AddrReq("ecc", AddrTypeP2PKH)},
		{ID: 1, Version: 1, To: "AtagB", From: "AtagA", Method: MethodTxidInf, Data: TxidInf("ecc", "5", "EaddrX", "abcd")},
		{ID: 1, Version: 1, To: "AtagB", From: "AtagA", Method: MethodSwapInf, Data: SwapInf("s-1", "ecc", "1", "ltc", "2")},
		{ID: 7, Version: 3, To: "x", From: "y", Method: "futureMethod", Data: map[string]any{"n": json.Number("12.5"), "s": "v"}},
	}
	for _, want := range cases {
		raw, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %s: %v", want.Method, err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", want.Method, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round trip %s mismatch (-want +got):\n%s", want.Method, diff)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"id":1,`,
		"missing id":     `{"ver":1,"to":"a","from":"b","meth":"chatAdd","data":{}}`,
		"missing data":   `{"id":1,"ver":1,"to":"a","from":"b","meth":"chatAdd"}`,
		"missing method": `{"id":1,"ver":1,"to":"a","from":"b","data":{}}`,
		"missing key":    `{"id":1,"ver":1,"to":"a","from":"b","meth":"addrRes","data":{"coin":"ecc"}}`,
	}
	for name, in := range cases {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("%s: expected ErrMalformedEnvelope, got %v", name, err)
		}
	}
}

func TestDecodeKeepsExtraKeys(t *testing.T) {
	in := `{"id":1,"ver":1,"to":"a","from":"b","meth":"addrRes","data":{"coin":"ecc","addr":"E1","memo":"hi"}}`
	env, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Str("memo") != "hi" || env.Str(KeyAddr) != "E1" {
		t.Fatalf("unexpected data: %+v", env.Data)
	}
}

func TestDecodeUnknownMethodAccepted(t *testing.T) {
	in := `{"id":1,"ver":1,"to":"a","from":"b","meth":"later","data":{}}`
	env, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if KnownMethod(env.Method) {
		t.Fatalf("expected unknown method")
	}
}

func TestEnvelopeAccessors(t *testing.T) {
	env := Envelope{Data: map[string]any{"n": json.Number("2.5"), "b": true, "s": "x"}}
	if env.Str("n") != "2.5" || env.Str("s") != "x" || env.Str("missing") != "" {
		t.Fatalf("unexpected Str results")
	}
	if !env.Bool("b") || env.Bool("s") {
		t.Fatalf("unexpected Bool results")
	}
}
