package credential

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"
)

// signingView is everything except proof.signature.
type signingView struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"type"`
	IssuerIdentity string                 `json:"issuerIdentity"`
	Subject        Subject                `json:"subject"`
	IssuedAt       string                 `json:"issuedAt"`
	ExpiresAt      string                 `json:"expiresAt,omitempty"`
	Claims         map[string]interface{} `json:"claims"`
	Proof          struct {
		Algorithm          string `json:"algorithm"`
		VerificationKeyRef string `json:"verificationKeyRef"`
	} `json:"proof"`
}

// SigningPayload returns the canonical bytes covered by the signature.
func SigningPayload(c *Credential) ([]byte, error) {
	if c == nil {
		return nil, errors.New("credential is nil")
	}

	view := signingView{
		ID:             c.ID,
		Type:           c.Type,
		IssuerIdentity: c.IssuerIdentity,
		Subject:        c.Subject,
		IssuedAt:       formatTime(c.IssuedAt),
		Claims:         c.Claims,
	}
	if c.ExpiresAt != nil {
		view.ExpiresAt = formatTime(*c.ExpiresAt)
	}
	if view.Claims == nil {
		view.Claims = map[string]interface{}{}
	}
	view.Proof.Algorithm = c.Proof.Algorithm
	view.Proof.VerificationKeyRef = c.Proof.VerificationKeyRef

	raw, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	return CanonicalizeJSON(raw)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CanonicalizeJSON re-encodes a JSON document with sorted object keys, no
// insignificant whitespace and a single number formatting rule.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	var extra interface{}
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON: trailing data")
	}

	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, value interface{}) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeString(buf, v)
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", v.String(), err)
		}
		num, err := canonicalizeFloat(f)
		if err != nil {
			return err
		}
		buf.WriteString(num)
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unsupported JSON type %T", value)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encoder appends a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// canonicalizeFloat formats integers without exponent or fraction and
// everything else with the shortest round-trip representation.
func canonicalizeFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	if f == 0 {
		return "0", nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'e', -1, 64), nil
}

// normalizeClaims round-trips claims through JSON so an issued credential
// compares equal to one loaded back from storage.
func normalizeClaims(claims map[string]interface{}) (map[string]interface{}, error) {
	if len(claims) == 0 {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("claims are not JSON-serializable: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
