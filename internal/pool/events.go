// events.go - Published batch events and the in-memory event log.
//
// Wallets reconstruct the full commitment tree and their own notes from
// these events alone; the pool never exposes per-wallet state.

package pool

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkshield/shieldpool/internal/note"
)

// ShieldPreimage is the public part of a deposit: the wallet re-derives
// the commitment from it once the ciphertext yields the randomness.
type ShieldPreimage struct {
	Npk   fr.Element     `json:"npk"`
	Token note.TokenData `json:"token"`
	Value *big.Int       `json:"value"`
}

// ShieldEvent reports one deposit batch. Values are post-fee.
type ShieldEvent struct {
	TreeNumber  uint32                  `json:"treeNumber"`
	StartIndex  uint64                  `json:"startIndex"`
	Preimages   []ShieldPreimage        `json:"preimages"`
	Ciphertexts []note.ShieldCiphertext `json:"ciphertexts"`
}

// TransactEvent reports the commitments one transaction appended.
type TransactEvent struct {
	TreeNumber  uint32                    `json:"treeNumber"`
	StartIndex  uint64                    `json:"startIndex"`
	Commitments []fr.Element              `json:"commitments"`
	Ciphertexts []note.TransferCiphertext `json:"ciphertexts"`
}

// NullifierEvent reports newly spent nullifiers.
type NullifierEvent struct {
	TreeNumber uint32       `json:"treeNumber"`
	Nullifiers []fr.Element `json:"nullifiers"`
}

// Event is the envelope delivered to sinks; exactly one payload is set.
type Event struct {
	Sequence   uint64          `json:"sequence"`
	Shield     *ShieldEvent    `json:"shield,omitempty"`
	Transact   *TransactEvent  `json:"transact,omitempty"`
	Nullifiers *NullifierEvent `json:"nullifiers,omitempty"`
}

// EventSink receives events in publication order.
type EventSink interface {
	Publish(ev Event)
}

// Log is an append-only in-memory EventSink that also serves reads,
// backing both wallet scans in-process and the HTTP feed.
type Log struct {
	mu     sync.RWMutex
	events []Event
	next   uint64
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Publish(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.Sequence = l.next
	l.next++
	l.events = append(l.events, ev)
}

// Since returns all events with sequence >= from.
func (l *Log) Since(from uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from >= uint64(len(l.events)) {
		return nil
	}
	out := make([]Event, len(l.events)-int(from))
	copy(out, l.events[from:])
	return out
}

// Len returns the number of published events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
