package credential

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// Ed25519Scheme derives one key pair per identity from a shared seed.
type Ed25519Scheme struct {
	keys map[string]ed25519.PrivateKey
}

// NewEd25519Scheme derives keys for each identity as
// ed25519.NewKeyFromSeed(sha256(seed || ":" || identity)).
func NewEd25519Scheme(seed []byte, identities []string) *Ed25519Scheme {
	s := &Ed25519Scheme{keys: make(map[string]ed25519.PrivateKey)}
	for id := range identitySet(identities) {
		h := sha256.New()
		h.Write(seed)
		h.Write([]byte(":"))
		h.Write([]byte(id))
		s.keys[id] = ed25519.NewKeyFromSeed(h.Sum(nil))
	}
	return s
}

func (s *Ed25519Scheme) Algorithm() string { return AlgorithmEd25519 }

func (s *Ed25519Scheme) HasKey(identity string) bool {
	_, ok := s.keys[identity]
	return ok
}

func (s *Ed25519Scheme) Sign(identity string, payload []byte) (string, error) {
	key, ok := s.keys[identity]
	if !ok {
		return "", fmt.Errorf("no signing key for %s", identity)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, payload)), nil
}

func (s *Ed25519Scheme) Verify(identity string, payload []byte, signature string) (bool, error) {
	key, ok := s.keys[identity]
	if !ok {
		return false, fmt.Errorf("no verification key for %s", identity)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	return ed25519.Verify(key.Public().(ed25519.PublicKey), payload, sig), nil
}

// PublicKeys exports PKIX PEM encoded public keys.
func (s *Ed25519Scheme) PublicKeys() []PublicKey {
	set := make(map[string]struct{}, len(s.keys))
	for id := range s.keys {
		set[id] = struct{}{}
	}

	var out []PublicKey
	for _, id := range sortedIdentities(set) {
		der, err := x509.MarshalPKIXPublicKey(s.keys[id].Public())
		if err != nil {
			continue
		}
		out = append(out, PublicKey{
			Identity:  id,
			KeyRef:    KeyRef(id),
			Algorithm: AlgorithmEd25519,
			Format:    "pem",
			Material:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		})
	}
	return out
}
