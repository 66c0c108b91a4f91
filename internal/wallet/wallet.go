// wallet.go - Off-ledger note tracking.
//
// A wallet never queries pool state directly: it reconstructs the
// commitment forest and its own notes entirely from published batch
// events, the same stream a remote wallet would read over the feed.

package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"

	"github.com/zkshield/shieldpool/internal/field"
	"github.com/zkshield/shieldpool/internal/merkle"
	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/nullifier"
	"github.com/zkshield/shieldpool/internal/pool"
)

// ErrInsufficientBalance reports that no single tree holds enough
// unspent value for a requested transfer.
var ErrInsufficientBalance = errors.New("wallet: insufficient spendable balance")

// Position locates a note inside the forest.
type Position struct {
	TreeNumber uint32 `json:"treeNumber"`
	LeafIndex  uint64 `json:"leafIndex"`
}

// StoredNote is a recovered note plus its ledger position and spend status.
type StoredNote struct {
	Note      *note.Note `json:"note"`
	Position  Position   `json:"position"`
	Nullifier fr.Element `json:"nullifier"`
	Spent     bool       `json:"spent"`
}

// Wallet owns one key set and tracks the notes addressed to it.
type Wallet struct {
	mu    sync.Mutex
	spend *note.SpendingKey
	view  *note.ViewingKey
	mpk   fr.Element
	log   zerolog.Logger

	depth   int
	trees   map[uint32]*merkle.Tree
	spent   *nullifier.Set
	notes   map[Position]*StoredNote
	byNull  map[nullKey]Position
	tokens  map[[32]byte]note.TokenData // token ID -> data, learned from shields
	nextSeq uint64
}

// nullKey scopes a nullifier to its tree instance: leaf indices restart on
// rollover, so equal nullifier values in different instances are distinct
// spends.
type nullKey struct {
	tree uint32
	nf   [32]byte
}

func New(spend *note.SpendingKey, view *note.ViewingKey, depth int, log zerolog.Logger) *Wallet {
	return &Wallet{
		spend:  spend,
		view:   view,
		mpk:    note.MasterPublicKey(spend, view),
		log:    log,
		depth:  depth,
		trees:  make(map[uint32]*merkle.Tree),
		spent:  nullifier.NewSet(),
		notes:  make(map[Position]*StoredNote),
		byNull: make(map[nullKey]Position),
		tokens: make(map[[32]byte]note.TokenData),
	}
}

// ViewingPublicKey returns the key senders encrypt notes to.
func (w *Wallet) ViewingPublicKey() [32]byte { return w.view.Public() }

// MasterPublicKey returns the key senders address notes to.
func (w *Wallet) MasterPublicKey() fr.Element { return w.mpk }

// Scan applies a slice of events in order, mirroring the forest and
// recovering any notes addressed to this wallet.
func (w *Wallet) Scan(events []pool.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range events {
		ev := &events[i]
		if ev.Sequence < w.nextSeq {
			continue // already applied
		}
		if ev.Sequence > w.nextSeq {
			return fmt.Errorf("wallet: event gap: have %d, next expected %d", ev.Sequence, w.nextSeq)
		}
		var err error
		switch {
		case ev.Shield != nil:
			err = w.applyShield(ev.Shield)
		case ev.Transact != nil:
			err = w.applyTransact(ev.Transact)
		case ev.Nullifiers != nil:
			w.applyNullifiers(ev.Nullifiers)
		}
		if err != nil {
			return err
		}
		w.nextSeq = ev.Sequence + 1
	}
	return nil
}

func (w *Wallet) tree(number uint32) *merkle.Tree {
	t, ok := w.trees[number]
	if !ok {
		t = merkle.NewTree(w.depth, number)
		w.trees[number] = t
	}
	return t
}

func (w *Wallet) applyShield(ev *pool.ShieldEvent) error {
	commitments := make([]fr.Element, len(ev.Preimages))
	for i := range ev.Preimages {
		pre := &ev.Preimages[i]
		tokenID, err := pre.Token.ID()
		if err != nil {
			return fmt.Errorf("wallet: shield event: %w", err)
		}
		w.tokens[tokenID.Bytes()] = pre.Token

		valueFr, err := field.FromBig(pre.Value)
		if err != nil {
			return fmt.Errorf("wallet: shield event: %w", err)
		}
		commitments[i] = note.CommitmentFromParts(pre.Npk, tokenID, valueFr)

		if i >= len(ev.Ciphertexts) {
			continue
		}
		random, err := ev.Ciphertexts[i].DecryptShield(w.view)
		if errors.Is(err, note.ErrNotAddressed) {
			continue
		}
		if err != nil {
			continue // undecryptable blob: someone else's note
		}
		npk := field.Hash(w.mpk, random)
		if !npk.Equal(&pre.Npk) {
			continue
		}
		w.store(ev.TreeNumber, ev.StartIndex+uint64(i), &note.Note{
			MasterPublicKey: w.mpk,
			Random:          random,
			Value:           new(big.Int).Set(pre.Value),
			Token:           pre.Token,
		})
	}
	if _, err := w.tree(ev.TreeNumber).Insert(commitments); err != nil {
		return fmt.Errorf("wallet: shield event: %w", err)
	}
	return nil
}

func (w *Wallet) applyTransact(ev *pool.TransactEvent) error {
	for i := range ev.Commitments {
		if i >= len(ev.Ciphertexts) {
			break
		}
		random, value, tokenID, err := ev.Ciphertexts[i].DecryptTransfer(w.view)
		if err != nil {
			continue
		}
		npk := field.Hash(w.mpk, random)
		valueFr, err := field.FromBig(value)
		if err != nil {
			continue
		}
		cm := note.CommitmentFromParts(npk, tokenID, valueFr)
		if !cm.Equal(&ev.Commitments[i]) {
			continue
		}
		token, ok := w.tokens[tokenID.Bytes()]
		if !ok {
			w.log.Warn().Uint64("leaf", ev.StartIndex+uint64(i)).Msg("recovered note with unknown token id")
			continue
		}
		w.store(ev.TreeNumber, ev.StartIndex+uint64(i), &note.Note{
			MasterPublicKey: w.mpk,
			Random:          random,
			Value:           value,
			Token:           token,
		})
	}
	if _, err := w.tree(ev.TreeNumber).Insert(ev.Commitments); err != nil {
		return fmt.Errorf("wallet: transact event: %w", err)
	}
	return nil
}

func (w *Wallet) applyNullifiers(ev *pool.NullifierEvent) {
	for _, nf := range ev.Nullifiers {
		_ = w.spent.Insert(ev.TreeNumber, nf)
		if pos, ok := w.byNull[nullKey{tree: ev.TreeNumber, nf: nf.Bytes()}]; ok {
			w.notes[pos].Spent = true
		}
	}
}

func (w *Wallet) store(treeNumber uint32, leafIndex uint64, n *note.Note) {
	pos := Position{TreeNumber: treeNumber, LeafIndex: leafIndex}
	nf := note.Nullifier(w.view.NullifyingKey(), leafIndex)
	w.notes[pos] = &StoredNote{Note: n, Position: pos, Nullifier: nf}
	w.byNull[nullKey{tree: treeNumber, nf: nf.Bytes()}] = pos
	w.log.Debug().
		Uint32("tree", treeNumber).
		Uint64("leaf", leafIndex).
		Str("value", n.Value.String()).
		Msg("note recovered")
}

// Balance sums unspent notes of the given token across all trees.
func (w *Wallet) Balance(token note.TokenData) (*big.Int, error) {
	tokenID, err := token.ID()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	total := new(big.Int)
	for _, sn := range w.notes {
		if sn.Spent {
			continue
		}
		id, err := sn.Note.Token.ID()
		if err != nil {
			continue
		}
		if id.Equal(&tokenID) {
			total.Add(total, sn.Note.Value)
		}
	}
	return total, nil
}

// NoteCount returns how many notes the wallet has recovered.
func (w *Wallet) NoteCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.notes)
}

// spendable returns unspent notes of the token in a single tree, oldest
// first. Caller holds w.mu.
func (w *Wallet) spendable(tokenID fr.Element, treeNumber uint32) []*StoredNote {
	var out []*StoredNote
	for _, sn := range w.notes {
		if sn.Spent || sn.Position.TreeNumber != treeNumber {
			continue
		}
		id, err := sn.Note.Token.ID()
		if err != nil || !id.Equal(&tokenID) {
			continue
		}
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position.LeafIndex < out[j].Position.LeafIndex
	})
	return out
}

// treeNumbers lists tracked trees in ascending order. Caller holds w.mu.
func (w *Wallet) treeNumbers() []uint32 {
	nums := make([]uint32, 0, len(w.trees))
	for n := range w.trees {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// stateVersion is bumped whenever the persisted layout changes.
const stateVersion = 1

// walletState is the persisted form.
type walletState struct {
	Version    int           `json:"version"`
	ViewingKey [32]byte      `json:"viewingKey"`
	SpendKey   []byte        `json:"spendKey"`
	Notes      []*StoredNote `json:"notes"`
}

// Save writes keys and recovered notes to path. The forest mirror is not
// persisted: it is rebuilt by rescanning events from zero on load.
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	notes := make([]*StoredNote, 0, len(w.notes))
	for _, sn := range w.notes {
		notes = append(notes, sn)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Position.TreeNumber != notes[j].Position.TreeNumber {
			return notes[i].Position.TreeNumber < notes[j].Position.TreeNumber
		}
		return notes[i].Position.LeafIndex < notes[j].Position.LeafIndex
	})
	state := walletState{
		Version:    stateVersion,
		ViewingKey: w.view.Bytes(),
		SpendKey:   w.spend.Bytes(),
		Notes:      notes,
	}
	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("wallet: encode state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("wallet: write state: %w", err)
	}
	return nil
}

// Load restores a wallet from a state file written by Save. The caller
// replays the event stream afterwards to rebuild the forest mirror.
func Load(path string, depth int, log zerolog.Logger) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: read state: %w", err)
	}
	var state walletState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("wallet: decode state: %w", err)
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("wallet: unsupported state version %d", state.Version)
	}
	view, err := note.ViewingKeyFromBytes(state.ViewingKey)
	if err != nil {
		return nil, err
	}
	spend, err := note.SpendingKeyFromBytes(state.SpendKey)
	if err != nil {
		return nil, err
	}
	w := New(spend, view, depth, log)
	for _, sn := range state.Notes {
		w.notes[sn.Position] = sn
		w.byNull[nullKey{tree: sn.Position.TreeNumber, nf: sn.Nullifier.Bytes()}] = sn.Position
		if id, err := sn.Note.Token.ID(); err == nil {
			w.tokens[id.Bytes()] = sn.Note.Token
		}
	}
	return w, nil
}
