package crypto

import (
	"bytes"
	"testing"
)

func TestTagIDStable(t *testing.T) {
	tag := "AhXb4Q1Zn2y6q1V0m2b5bq5m6k2Qm0cJ4vH6Q2b1c3d4"
	a := TagID(tag)
	b := TagID(" " + tag + "\n")
	if a != b {
		t.Fatalf("expected whitespace-insensitive tag id")
	}
	if a == TagID("AnotherTag") {
		t.Fatalf("expected distinct ids for distinct tags")
	}
	if len(ShortTag(tag)) != 12 {
		t.Fatalf("unexpected short tag length: %q", ShortTag(tag))
	}
}

func TestDecodeTag(t *testing.T) {
	pub, err := DecodeTag("AQID")
	if err != nil {
		t.Fatalf("decode tag: %v", err)
	}
	if !bytes.Equal(pub, []byte{1, 2, 3}) {
		t.Fatalf("unexpected pub bytes: %x", pub)
	}
	if _, err := DecodeTag("not base64!"); err == nil {
		t.Fatalf("expected base64 error")
	}
	if _, err := DecodeTag("  "); err == nil {
		t.Fatalf("expected empty tag error")
	}
}

func TestKDFLabelSeparates(t *testing.T) {
	if bytes.Equal(KDF("a", []byte("x")), KDF("b", []byte("x"))) {
		t.Fatalf("expected label to change output")
	}
}
