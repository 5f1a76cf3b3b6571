package nonce

import (
	"errors"
	"sync"
)

var (
	// ErrStaleNonce indicates the supplied nonce does not match the next
	// expected value for the signer, i.e. the signed message was already
	// consumed or was built against stale state.
	ErrStaleNonce = errors.New("nonce: stale or out-of-order nonce")
	// ErrZeroSigner indicates the signer identity was empty.
	ErrZeroSigner = errors.New("nonce: signer must not be zero")
)

// Registry tracks a monotonic counter per signer. Each signed message embeds
// the signer's current counter value and consuming it increments the counter,
// so every signature is usable exactly once.
type Registry struct {
	mu     sync.Mutex
	nonces map[[20]byte]uint64
}

// NewRegistry constructs an empty nonce registry.
func NewRegistry() *Registry {
	return &Registry{nonces: make(map[[20]byte]uint64)}
}

// NextNonce returns the value the signer must embed in its next signed
// message. The counter starts at zero for unseen signers.
func (r *Registry) NextNonce(signer [20]byte) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonces[signer]
}

// Consume validates the supplied nonce against the stored counter and
// increments it atomically. The check and increment are performed under one
// lock acquisition so concurrent submissions of the same signed message can
// never both succeed.
func (r *Registry) Consume(signer [20]byte, supplied uint64) error {
	if signer == ([20]byte{}) {
		return ErrZeroSigner
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nonces[signer] != supplied {
		return ErrStaleNonce
	}
	r.nonces[signer] = supplied + 1
	return nil
}
