// Package signer signs requests to the anonymization service with a
// secp256k1 key, so a service behind a gateway can verify who sent them.
package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Header names set by Apply.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderAddress   = "X-Signer-Address"
)

// Signer produces deterministic (RFC 6979), low-S ECDSA signatures.
type Signer struct {
	key     *ecdsa.PrivateKey
	address string
	now     func() time.Time
}

// New creates a Signer from a hex-encoded private key (0x prefix optional).
func New(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid hex key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("signer: key must be 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		now:     time.Now,
	}, nil
}

// Address is the checksummed address derived from the public key.
func (s *Signer) Address() string { return s.address }

// Sign returns (base64 signature, timestamp in nanoseconds).
//
//  1. payload_hash = hex(SHA256(payload))
//  2. digest = SHA256(payload_hash + str(timestamp_ns))
//  3. signature = r(32) || s(32) over digest, recovery byte dropped
func (s *Signer) Sign(payload []byte) (string, int64, error) {
	ts := s.now().UnixNano()
	sig, err := crypto.Sign(Digest(payload, ts), s.key)
	if err != nil {
		return "", 0, fmt.Errorf("signer: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig[:64]), ts, nil
}

// Apply signs payload and sets the signature headers on req.
func (s *Signer) Apply(req *http.Request, payload []byte) error {
	sig, ts, err := s.Sign(payload)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderAddress, s.address)
	return nil
}

// Digest is the 32-byte message hash signed for payload at ts.
func Digest(payload []byte, ts int64) []byte {
	payloadHash := sha256.Sum256(payload)
	input := hex.EncodeToString(payloadHash[:]) + strconv.FormatInt(ts, 10)
	msg := sha256.Sum256([]byte(input))
	return msg[:]
}
