package integration

import (
	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/errors"
)

// KeySet is the verification material external verifiers need to check
// credentials offline
type KeySet struct {
	Algorithm string                 `json:"algorithm"`
	Keys      []credential.PublicKey `json:"keys"`
}

// VerificationKeys exports the public keys of scheme. Symmetric schemes have
// nothing that can be published.
func VerificationKeys(scheme credential.Scheme) (*KeySet, error) {
	if scheme == nil {
		return nil, errors.NewPermanentf("no signing scheme configured")
	}

	ring, ok := scheme.(credential.KeyRing)
	if !ok {
		return nil, errors.NewNotFoundf("scheme %s has no public verification keys", scheme.Algorithm())
	}

	keys := ring.PublicKeys()
	if keys == nil {
		keys = []credential.PublicKey{}
	}
	return &KeySet{
		Algorithm: scheme.Algorithm(),
		Keys:      keys,
	}, nil
}
