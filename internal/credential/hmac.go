package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// HMACScheme signs with a per-identity secret derived from a shared seed.
// Anyone holding the seed can forge signatures, so it exports no keys.
type HMACScheme struct {
	secrets map[string][]byte
}

func NewHMACScheme(seed []byte, identities []string) *HMACScheme {
	s := &HMACScheme{secrets: make(map[string][]byte)}
	for id := range identitySet(identities) {
		mac := hmac.New(sha256.New, seed)
		mac.Write([]byte(id))
		s.secrets[id] = mac.Sum(nil)
	}
	return s
}

func (s *HMACScheme) Algorithm() string { return AlgorithmHMAC }

func (s *HMACScheme) HasKey(identity string) bool {
	_, ok := s.secrets[identity]
	return ok
}

func (s *HMACScheme) Sign(identity string, payload []byte) (string, error) {
	secret, ok := s.secrets[identity]
	if !ok {
		return "", fmt.Errorf("no signing key for %s", identity)
	}
	return base64.StdEncoding.EncodeToString(s.mac(secret, payload)), nil
}

func (s *HMACScheme) Verify(identity string, payload []byte, signature string) (bool, error) {
	secret, ok := s.secrets[identity]
	if !ok {
		return false, fmt.Errorf("no verification key for %s", identity)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	return hmac.Equal(sig, s.mac(secret, payload)), nil
}

func (s *HMACScheme) mac(secret, payload []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write(payload)
	return m.Sum(nil)
}
