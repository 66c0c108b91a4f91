// registry.go - Verifying keys looked up by transaction shape.
//
// Keys are registered per (inputCount, outputCount) pair during setup. The
// registry starts empty and a missing shape is a hard, distinguishable
// failure: there is no default key. Verification results are memoized in a
// bounded LRU keyed by a digest of proof, input, and shape.

package verifier

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	lru "github.com/hashicorp/golang-lru"
)

var ErrShapeNotRegistered = errors.New("verifier: no key for transaction shape")

// Registry is the two-level (inputs, outputs) key lookup plus result cache.
type Registry struct {
	mu    sync.RWMutex
	keys  map[uint8]map[uint8]*VerifyingKey
	cache *lru.Cache
}

// NewRegistry creates an empty registry with a result cache of cacheSize.
func NewRegistry(cacheSize int) (*Registry, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("verifier: cache init: %w", err)
	}
	return &Registry{
		keys:  make(map[uint8]map[uint8]*VerifyingKey),
		cache: cache,
	}, nil
}

// Register installs (or replaces) the key for a shape after validating it.
func (r *Registry) Register(inputs, outputs uint8, vk *VerifyingKey) error {
	if vk == nil {
		return errors.New("verifier: nil verifying key")
	}
	if err := vk.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inner, ok := r.keys[inputs]
	if !ok {
		inner = make(map[uint8]*VerifyingKey)
		r.keys[inputs] = inner
	}
	inner[outputs] = vk
	return nil
}

// Key returns the verifying key for a shape, failing closed when absent.
func (r *Registry) Key(inputs, outputs uint8) (*VerifyingKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if inner, ok := r.keys[inputs]; ok {
		if vk, ok := inner[outputs]; ok {
			return vk, nil
		}
	}
	return nil, fmt.Errorf("%w: %d inputs, %d outputs", ErrShapeNotRegistered, inputs, outputs)
}

// Verify resolves the shape's key and checks the proof, consulting the
// result cache first. Only positive results are cached: a repeated valid
// submission skips the pairing, a repeated invalid one re-fails cheaply in
// the pairing itself.
func (r *Registry) Verify(inputs, outputs uint8, proof *Proof, publicInput fr.Element) error {
	vk, err := r.Key(inputs, outputs)
	if err != nil {
		return err
	}
	key := cacheKey(inputs, outputs, proof, publicInput)
	if _, ok := r.cache.Get(key); ok {
		return nil
	}
	if err := Verify(vk, proof, publicInput); err != nil {
		return err
	}
	r.cache.Add(key, struct{}{})
	return nil
}

func cacheKey(inputs, outputs uint8, proof *Proof, publicInput fr.Element) [32]byte {
	h := sha256.New()
	h.Write([]byte{inputs, outputs})
	h.Write(proof.A.Marshal())
	h.Write(proof.B.Marshal())
	h.Write(proof.C.Marshal())
	b := publicInput.Bytes()
	h.Write(b[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
