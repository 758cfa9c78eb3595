// Package signature computes and verifies the gateway handshake hash. The
// service is stateless: every call is a pure function of its inputs, and the
// merchant salt lives only in configuration, never in any store.
package signature

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/robertarktes/payment-orders/internal/observability"
)

type Service struct {
	salt   string
	logger observability.Logger
}

func NewService(salt string, logger observability.Logger) *Service {
	return &Service{salt: salt, logger: logger}
}

// Sign hashes the pipe-joined ordered field values plus the salt. Field order
// is owned by the caller and must match what the gateway expects exactly.
func (s *Service) Sign(fields []string) string {
	payload := strings.Join(fields, "|") + "|" + s.salt
	sum := sha512.Sum512([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the hash and compares in constant time. A mismatch is
// logged and returned as false; the caller decides whether to reject.
func (s *Service) Verify(fields []string, provided string) bool {
	expected := s.Sign(fields)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1 {
		return true
	}
	s.logger.WithField("field_count", len(fields)).Warn("gateway signature mismatch")
	return false
}
