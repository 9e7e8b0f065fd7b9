package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	crcDelimiter = ",CRC:"
	crcInit      = 0xFFFF
	crcPoly      = 0x1021
)

// defaultLinkKey is the shared XOR key baked into the firmware. Both ends
// must agree on it for the cipher toggle to interoperate.
const defaultLinkKey = "PostureLink-2024"

var (
	ErrMalformedEnvelope = errors.New("protocol: message has no CRC envelope")
	ErrIntegrityMismatch = errors.New("protocol: CRC mismatch")
	ErrDecode            = errors.New("protocol: cannot decode ciphertext")
)

// Checksum computes CRC-16/CCITT-FALSE over body.
func Checksum(body []byte) uint16 {
	reg := uint16(crcInit)
	for _, b := range body {
		reg ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if reg&0x8000 != 0 {
				reg = reg<<1 ^ crcPoly
			} else {
				reg <<= 1
			}
		}
	}
	return reg
}

// ChecksumHex renders the checksum as four uppercase hex digits.
func ChecksumHex(body []byte) string {
	return fmt.Sprintf("%04X", Checksum(body))
}

// Wrap appends the CRC envelope to body.
func Wrap(body string) string {
	return body + crcDelimiter + ChecksumHex([]byte(body))
}

// Unwrap splits a wrapped message on the last CRC delimiter.
func Unwrap(message string) (body, claimed string, err error) {
	idx := strings.LastIndex(message, crcDelimiter)
	if idx < 0 {
		return "", "", ErrMalformedEnvelope
	}
	return message[:idx], message[idx+len(crcDelimiter):], nil
}

// Verify strips the envelope from message and checks the claimed CRC,
// case-insensitively.
func Verify(message string) (string, error) {
	body, claimed, err := Unwrap(message)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(ChecksumHex([]byte(body)), claimed) {
		return "", ErrIntegrityMismatch
	}
	return body, nil
}

// Codec applies the integrity and cipher envelope to protocol lines. Both
// toggles are independent; with both off the codec is the identity.
type Codec struct {
	Integrity  bool
	Encryption bool

	key []byte
}

// NewCodec builds a codec with the shared key. An empty key selects the
// built-in firmware key.
func NewCodec(key string, integrity, encryption bool) Codec {
	if key == "" {
		key = defaultLinkKey
	}
	return Codec{Integrity: integrity, Encryption: encryption, key: []byte(key)}
}

func (c Codec) xor(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out
}

// Encrypt XORs body with the repeating key and base64-encodes the result.
func (c Codec) Encrypt(body string) string {
	return base64.StdEncoding.EncodeToString(c.xor([]byte(body)))
}

// Decrypt reverses Encrypt. The XOR cipher is self-inverse.
func (c Codec) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return string(c.xor(raw)), nil
}

// ProcessIncoming turns one wire line into a plaintext body: decrypt when
// the cipher is on, then verify and strip the CRC envelope when integrity
// is on.
func (c Codec) ProcessIncoming(message string) (string, error) {
	if c.Encryption {
		plain, err := c.Decrypt(message)
		if err != nil {
			return "", err
		}
		message = plain
	}
	if c.Integrity {
		return Verify(message)
	}
	return message, nil
}

// PrepareOutgoing wraps body for the wire: CRC envelope when integrity is
// on, then the cipher when it is on. Line termination is the transport's
// concern.
func (c Codec) PrepareOutgoing(body string) string {
	if c.Integrity {
		body = Wrap(body)
	}
	if c.Encryption {
		body = c.Encrypt(body)
	}
	return body
}
