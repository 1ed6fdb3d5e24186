package auth

import (
	"net/http"

	"github.com/samber/mo"
)

// KeylessOrder is the priority of the keyless handler.
const KeylessOrder = 1000

// KeylessHandler serves plans that require no credentials.
type KeylessHandler struct{}

// NewKeylessHandler creates a keyless handler.
func NewKeylessHandler() *KeylessHandler {
	return &KeylessHandler{}
}

// Name returns "keyless".
func (KeylessHandler) Name() string { return SecurityKeyless }

// Order returns 1000.
func (KeylessHandler) Order() int { return KeylessOrder }

// CanHandle always returns true.
func (KeylessHandler) CanHandle(*http.Request, mo.Option[Context]) bool { return true }

// Handle contributes no policies.
func (KeylessHandler) Handle(*ExecutionContext) []Policy { return nil }

var _ Handler = KeylessHandler{}
