// Package signing provides the pluggable signature contract used for audit
// events plus canonical JSON fingerprinting of evidence records. The engine
// only requires determinism and collision resistance from implementations,
// not a specific algorithm.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"custodia/internal/custody"
)

// Signer produces and checks detached signatures over canonical payloads.
type Signer interface {
	Sign(payload []byte) (string, error)
	Verify(payload []byte, signature string) bool
}

// HMACSigner signs payloads with HMAC-SHA256 under a shared secret.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner builds a signer from a non-empty secret.
func NewHMACSigner(secret string) (*HMACSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret must not be empty")
	}
	return &HMACSigner{key: []byte(secret)}, nil
}

// Sign returns the hex HMAC-SHA256 digest of payload.
func (s *HMACSigner) Sign(payload []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches payload in constant time.
func (s *HMACSigner) Verify(payload []byte, signature string) bool {
	expected, err := s.Sign(payload)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Fingerprint returns the deterministic digest of a value as canonical JSON
// hashed with SHA-256, prefixed with the algorithm name.
func Fingerprint(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint payload: %w", err)
	}
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// SignEvent computes and attaches the signature for an event.
func SignEvent(signer Signer, event *custody.Event) error {
	payload, err := event.SigningPayload()
	if err != nil {
		return err
	}
	signature, err := signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign event %s: %w", event.ID, err)
	}
	event.Signature = signature
	return nil
}

// VerifyEvent recomputes an event's signature and compares it.
func VerifyEvent(signer Signer, event custody.Event) (bool, error) {
	payload, err := event.SigningPayload()
	if err != nil {
		return false, err
	}
	return signer.Verify(payload, event.Signature), nil
}

// VerifyChain replays an event list and reports the index of the first event
// whose signature does not verify, or -1 when the whole chain is intact.
func VerifyChain(signer Signer, events []custody.Event) (int, error) {
	for i, event := range events {
		ok, err := VerifyEvent(signer, event)
		if err != nil {
			return i, err
		}
		if !ok {
			return i, nil
		}
	}
	return -1, nil
}
