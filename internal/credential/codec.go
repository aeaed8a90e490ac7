package credential

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daimoniac/swarmshield/internal/errors"
)

// Codec issues and verifies credentials with one signature scheme and one
// trust policy.
type Codec struct {
	scheme Scheme
	trust  TrustPolicy
	now    func() time.Time
}

func NewCodec(scheme Scheme, trust TrustPolicy) *Codec {
	return &Codec{
		scheme: scheme,
		trust:  trust,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for issuedAt and expiresAt.
func (c *Codec) SetClock(now func() time.Time) {
	c.now = now
}

// Scheme returns the configured signature scheme.
func (c *Codec) Scheme() Scheme {
	return c.scheme
}

// Issue builds and signs a new credential. SafeToUseAttestation requires a
// positive ttl; for other types ttl <= 0 means no expiry.
func (c *Codec) Issue(t Type, issuer string, subject Subject, claims map[string]interface{}, ttl time.Duration) (*Credential, error) {
	if !t.Valid() {
		return nil, errors.NewInvalidInputf("unknown credential type %q", t)
	}
	if issuer == "" {
		return nil, errors.NewInvalidInputf("issuer identity is required")
	}
	if subject.PackageName == "" || subject.Version == "" {
		return nil, errors.NewInvalidInputf("subject requires packageName and version")
	}
	if t == SafeToUseAttestation && ttl <= 0 {
		return nil, errors.NewInvalidInputf("%s requires a positive ttl", t)
	}

	normalized, err := normalizeClaims(claims)
	if err != nil {
		return nil, errors.NewInvalidInputf("%v", err)
	}

	now := c.now().UTC()
	cred := &Credential{
		ID:             "urn:uuid:" + uuid.NewString(),
		Type:           t,
		IssuerIdentity: issuer,
		Subject:        subject,
		IssuedAt:       now,
		Claims:         normalized,
		Proof: Proof{
			Algorithm:          c.scheme.Algorithm(),
			VerificationKeyRef: KeyRef(issuer),
		},
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		cred.ExpiresAt = &exp
	}

	payload, err := SigningPayload(cred)
	if err != nil {
		return nil, errors.NewPermanentf("failed to canonicalize credential: %w", err)
	}
	sig, err := c.scheme.Sign(issuer, payload)
	if err != nil {
		return nil, errors.NewPermanentf("failed to sign credential: %w", err)
	}
	cred.Proof.Signature = sig

	return cred, nil
}

// Verify checks the signature and issuer trust independently. It never
// considers expiry and never returns an error.
func (c *Codec) Verify(ctx context.Context, cred *Credential) VerificationResult {
	if cred == nil {
		return VerificationResult{Reason: "credential is nil"}
	}

	sigValid, sigReason := c.checkSignature(cred)
	trusted := c.trust.IsTrusted(ctx, cred.Type, cred.IssuerIdentity)

	var reasons []string
	if !sigValid {
		reasons = append(reasons, sigReason)
	}
	if !trusted {
		reasons = append(reasons, "issuer "+cred.IssuerIdentity+" is not trusted for "+string(cred.Type))
	}
	reason := "signature valid and issuer trusted"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return VerificationResult{
		SignatureValid: sigValid,
		IssuerTrusted:  trusted,
		Reason:         reason,
	}
}

func (c *Codec) checkSignature(cred *Credential) (bool, string) {
	if cred.Proof.Signature == "" {
		return false, "missing signature"
	}
	if cred.Proof.Algorithm != c.scheme.Algorithm() {
		return false, "unsupported algorithm " + cred.Proof.Algorithm
	}
	if IdentityFromKeyRef(cred.Proof.VerificationKeyRef) != cred.IssuerIdentity {
		return false, "verification key does not belong to issuer"
	}
	if !c.scheme.HasKey(cred.IssuerIdentity) {
		return false, "no verification key for " + cred.IssuerIdentity
	}

	payload, err := SigningPayload(cred)
	if err != nil {
		return false, "payload cannot be canonicalized"
	}
	ok, err := c.scheme.Verify(cred.IssuerIdentity, payload, cred.Proof.Signature)
	if err != nil || !ok {
		return false, "signature mismatch"
	}
	return true, ""
}
