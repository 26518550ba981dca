package signer

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key (private key = 1).
const testKey = "0x0000000000000000000000000000000000000000000000000000000000000001"

// verify checks a base64 r||s signature against the signer's public key.
func verify(s *Signer, payload []byte, ts int64, sig string) bool {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(raw) != 64 {
		return false
	}
	return crypto.VerifySignature(crypto.FromECDSAPub(&s.key.PublicKey), Digest(payload, ts), raw)
}

func TestNew(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", s.Address())

	_, err = New("zz")
	assert.Error(t, err)
	_, err = New("0x01")
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(0, 1700000000000000000) }

	payload := []byte(`{"text":"John went to Paris"}`)
	sig, ts, err := s.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000000000), ts)
	assert.True(t, verify(s, payload, ts, sig))

	again, _, err := s.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "signatures are deterministic")

	assert.False(t, verify(s, []byte(`{"text":"tampered"}`), ts, sig))
	assert.False(t, verify(s, payload, ts+1, sig))
	assert.False(t, verify(s, payload, ts, "not base64!"))
}

func TestApply(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/anonymize", nil)
	require.NoError(t, err)
	payload := []byte(`{}`)
	require.NoError(t, s.Apply(req, payload))

	ts, err := strconv.ParseInt(req.Header.Get(HeaderTimestamp), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), req.Header.Get(HeaderAddress))
	assert.True(t, verify(s, payload, ts, req.Header.Get(HeaderSignature)))
}
