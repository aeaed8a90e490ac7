package credential

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// OpenPGPScheme produces armored detached signatures. Each entity's primary
// user id name is the identity it signs for.
type OpenPGPScheme struct {
	entities map[string]*openpgp.Entity
}

// NewOpenPGPScheme indexes entities by user id name. Entities without a
// private key can verify but not sign.
func NewOpenPGPScheme(entities openpgp.EntityList) *OpenPGPScheme {
	s := &OpenPGPScheme{entities: make(map[string]*openpgp.Entity)}
	for _, e := range entities {
		for _, ident := range e.Identities {
			if ident.UserId != nil && ident.UserId.Name != "" {
				s.entities[ident.UserId.Name] = e
			}
		}
	}
	return s
}

// LoadOpenPGPScheme reads an armored key ring from disk.
func LoadOpenPGPScheme(path string) (*OpenPGPScheme, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key ring: %w", err)
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read key ring: %w", err)
	}
	return NewOpenPGPScheme(entities), nil
}

// GenerateOpenPGPScheme creates a fresh entity per identity. Keys live only
// as long as the process.
func GenerateOpenPGPScheme(identities []string) (*OpenPGPScheme, error) {
	var entities openpgp.EntityList
	for _, id := range sortedIdentities(identitySet(identities)) {
		e, err := openpgp.NewEntity(id, "", "", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key for %s: %w", id, err)
		}
		entities = append(entities, e)
	}
	return NewOpenPGPScheme(entities), nil
}

func (s *OpenPGPScheme) Algorithm() string { return AlgorithmOpenPGP }

func (s *OpenPGPScheme) HasKey(identity string) bool {
	_, ok := s.entities[identity]
	return ok
}

func (s *OpenPGPScheme) Sign(identity string, payload []byte) (string, error) {
	e, ok := s.entities[identity]
	if !ok || e.PrivateKey == nil {
		return "", fmt.Errorf("no signing key for %s", identity)
	}
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, e, bytes.NewReader(payload), nil); err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return buf.String(), nil
}

func (s *OpenPGPScheme) Verify(identity string, payload []byte, signature string) (bool, error) {
	e, ok := s.entities[identity]
	if !ok {
		return false, fmt.Errorf("no verification key for %s", identity)
	}
	_, err := openpgp.CheckArmoredDetachedSignature(
		openpgp.EntityList{e},
		bytes.NewReader(payload),
		bytes.NewReader([]byte(signature)),
		nil,
	)
	return err == nil, nil
}

// PublicKeys exports armored public key blocks.
func (s *OpenPGPScheme) PublicKeys() []PublicKey {
	set := make(map[string]struct{}, len(s.entities))
	for id := range s.entities {
		set[id] = struct{}{}
	}

	var out []PublicKey
	for _, id := range sortedIdentities(set) {
		material, err := armorPublicKey(s.entities[id])
		if err != nil {
			continue
		}
		out = append(out, PublicKey{
			Identity:  id,
			KeyRef:    KeyRef(id),
			Algorithm: AlgorithmOpenPGP,
			Format:    "openpgp-armored",
			Material:  material,
		})
	}
	return out
}

func armorPublicKey(e *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := e.Serialize(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
