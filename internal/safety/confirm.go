package safety

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTokenTTL is how long a confirmation token stays valid.
const DefaultTokenTTL = 5 * time.Minute

// pendingConfirmation holds the metadata for an outstanding confirmation token.
type pendingConfirmation struct {
	tool        string
	target      string
	description string
	createdAt   time.Time
}

// ConfirmationTracker manages single-use, time-limited confirmation tokens for
// destructive outlet commands. A token is bound to the tool and target it was
// issued for and cannot be redeemed for anything else.
type ConfirmationTracker struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]*pendingConfirmation
}

// NewConfirmationTracker returns a tracker whose tokens expire after ttl. A
// non-positive ttl selects DefaultTokenTTL.
func NewConfirmationTracker(ttl time.Duration) *ConfirmationTracker {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &ConfirmationTracker{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]*pendingConfirmation),
	}
}

// sweepExpired removes all expired tokens. The caller must hold ct.mu.
func (ct *ConfirmationTracker) sweepExpired() {
	now := ct.now()
	for token, pending := range ct.tokens {
		if now.Sub(pending.createdAt) > ct.ttl {
			delete(ct.tokens, token)
		}
	}
}

// RequestConfirmation creates a token for running tool against target and
// returns it.
func (ct *ConfirmationTracker) RequestConfirmation(tool, target, description string) string {
	token := generateToken()

	ct.mu.Lock()
	ct.sweepExpired()
	ct.tokens[token] = &pendingConfirmation{
		tool:        tool,
		target:      target,
		description: description,
		createdAt:   ct.now(),
	}
	ct.mu.Unlock()

	return token
}

// Confirm consumes token and reports whether it was issued for the same tool
// and target and has not expired. A token presented for a different tool or
// target is left in place so the right call can still redeem it.
func (ct *ConfirmationTracker) Confirm(token, tool, target string) bool {
	if token == "" {
		return false
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pending, ok := ct.tokens[token]
	if !ok {
		return false
	}
	if pending.tool != tool || pending.target != target {
		return false
	}

	delete(ct.tokens, token)
	return ct.now().Sub(pending.createdAt) <= ct.ttl
}

// TTL returns how long an issued token stays valid.
func (ct *ConfirmationTracker) TTL() time.Duration {
	return ct.ttl
}

// Pending returns the number of outstanding tokens.
func (ct *ConfirmationTracker) Pending() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.tokens)
}

// generateToken returns a cryptographically random hex-encoded token string.
func generateToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic("safety: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
