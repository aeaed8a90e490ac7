package credential

import (
	"fmt"
	"sort"
)

// Algorithm names written to proof.algorithm.
const (
	AlgorithmEd25519 = "Ed25519Signature2020"
	AlgorithmHMAC    = "HmacSha256Signature2024"
	AlgorithmOpenPGP = "OpenPGPSignature2024"
)

// Scheme names accepted by NewScheme.
const (
	SchemeEd25519 = "ed25519"
	SchemeHMAC    = "hmac"
	SchemeOpenPGP = "openpgp"
)

// Scheme signs and verifies canonical payloads on behalf of identities.
// Implementations hold key material only for the identities they were
// constructed with.
type Scheme interface {
	Algorithm() string
	Sign(identity string, payload []byte) (string, error)
	Verify(identity string, payload []byte, signature string) (bool, error)
	HasKey(identity string) bool
}

// KeyRing is implemented by schemes that can export verification material.
type KeyRing interface {
	PublicKeys() []PublicKey
}

// PublicKey is exportable verification material for one identity.
type PublicKey struct {
	Identity  string `json:"identity"`
	KeyRef    string `json:"keyRef"`
	Algorithm string `json:"algorithm"`
	Format    string `json:"format"`
	Material  string `json:"material"`
}

// NewScheme builds the named scheme for the given identities.
func NewScheme(name string, seed []byte, identities []string) (Scheme, error) {
	switch name {
	case "", SchemeEd25519:
		return NewEd25519Scheme(seed, identities), nil
	case SchemeHMAC:
		return NewHMACScheme(seed, identities), nil
	case SchemeOpenPGP:
		return GenerateOpenPGPScheme(identities)
	default:
		return nil, fmt.Errorf("unknown credential scheme %q", name)
	}
}

func sortedIdentities(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func identitySet(identities []string) map[string]struct{} {
	set := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
