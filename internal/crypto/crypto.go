package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const labelTagID = "ecchat:tagid:v1"

func SHA3_256(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

func KDF(label string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(label))
	buf = append(buf, []byte(label)...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return SHA3_256(buf)
}

// DecodeTag returns the public key bytes carried by a routing tag.
func DecodeTag(tag string) ([]byte, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, fmt.Errorf("empty routing tag")
	}
	pub, err := base64.StdEncoding.DecodeString(tag)
	if err != nil {
		return nil, fmt.Errorf("routing tag is not base64: %w", err)
	}
	return pub, nil
}

// TagID derives a stable identifier for a routing tag. Tags that are not
// valid base64 are hashed as text so callers always get an id.
func TagID(tag string) [32]byte {
	material, err := DecodeTag(tag)
	if err != nil {
		material = []byte(strings.TrimSpace(tag))
	}
	var id [32]byte
	copy(id[:], KDF(labelTagID, material))
	return id
}

// ShortTag renders the first bytes of a tag id for headers and file names.
func ShortTag(tag string) string {
	id := TagID(tag)
	return hex.EncodeToString(id[:6])
}
