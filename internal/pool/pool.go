// pool.go - The shielded pool transaction validator.
//
// All state mutation funnels through Shield and Transact under one mutex,
// mirroring a host ledger's serialized execution. Each call is atomic over
// its full batch: validation completes for every entry before any state
// changes, and the only mid-apply failure mode (a token push-out) rolls the
// nullifier journal back before returning.

package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/zkshield/shieldpool/internal/field"
	"github.com/zkshield/shieldpool/internal/merkle"
	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/nullifier"
	"github.com/zkshield/shieldpool/internal/verifier"
)

// MaxValueBits bounds note values; the proving circuit range-checks output
// values to the same width, so conservation cannot be satisfied by overflow.
const MaxValueBits = 120

const maxBatchSide = 255 // registry shapes are keyed by uint8

// ShieldRequest is one deposit: the commitment preimage plus the sealed
// randomness the depositor hands to the note owner.
type ShieldRequest struct {
	Preimage   ShieldPreimage
	Ciphertext note.ShieldCiphertext
}

// UnshieldPreimage opens a transaction's withheld last commitment: instead
// of a note public key it carries the plaintext payout recipient.
type UnshieldPreimage struct {
	Recipient common.Address
	Token     note.TokenData
	Value     *big.Int
}

// Transaction is one proven transfer/unshield inside a transact batch.
type Transaction struct {
	Proof       verifier.Proof
	MerkleRoot  fr.Element
	Nullifiers  []fr.Element
	Commitments []fr.Element
	Bound       BoundParams
	// Unshield must be set exactly when Bound.Unshield != UnshieldNone.
	Unshield *UnshieldPreimage
	// Override redirects the payout. Redirection to a third address needs
	// UnshieldOverride mode and the declared recipient as caller; an
	// override naming the recipient itself is a no-op and always accepted.
	Override *common.Address
}

// Config assembles a pool's collaborators and initial parameters.
type Config struct {
	MerkleDepth   int
	ShieldFeeBP   uint64
	UnshieldFeeBP uint64
	FeeRecipient  common.Address
	Tokens        TokenAdapter
	Auth          Authorizer
	Sink          EventSink
	Logger        zerolog.Logger
	VerifierCache int
}

// Pool is the on-ledger shielded value pool.
type Pool struct {
	mu     sync.Mutex
	forest *merkle.Forest
	spent  *nullifier.Set
	keys   *verifier.Registry

	tokens TokenAdapter
	auth   Authorizer
	sink   EventSink
	log    zerolog.Logger

	shieldFeeBP   uint64
	unshieldFeeBP uint64
	feeRecipient  common.Address
	blocked       map[[32]byte]struct{}

	inRelay atomic.Bool
}

func New(cfg Config) (*Pool, error) {
	if cfg.Tokens == nil || cfg.Auth == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("pool: token adapter, authorizer, and event sink are required")
	}
	depth := cfg.MerkleDepth
	if depth == 0 {
		depth = merkle.DefaultDepth
	}
	cacheSize := cfg.VerifierCache
	if cacheSize == 0 {
		cacheSize = 1024
	}
	keys, err := verifier.NewRegistry(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Pool{
		forest:        merkle.NewForest(depth),
		spent:         nullifier.NewSet(),
		keys:          keys,
		tokens:        cfg.Tokens,
		auth:          cfg.Auth,
		sink:          cfg.Sink,
		log:           cfg.Logger,
		shieldFeeBP:   cfg.ShieldFeeBP,
		unshieldFeeBP: cfg.UnshieldFeeBP,
		feeRecipient:  cfg.FeeRecipient,
		blocked:       make(map[[32]byte]struct{}),
	}, nil
}

// Shield deposits plaintext value into the pool. No proof is required: the
// depositor authorizes their own funds, and the inclusive fee is carved out
// of each deposited amount before the commitment is formed.
func (p *Pool) Shield(ctx context.Context, caller common.Address, reqs []ShieldRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(reqs) == 0 {
		return formatErr("empty shield batch")
	}
	if uint64(len(reqs)) > p.forest.ActiveTree().Capacity() {
		return formatErr("shield batch of %d exceeds tree capacity", len(reqs))
	}

	type stagedShield struct {
		preimage   ShieldPreimage
		token      note.TokenData
		gross      *big.Int
		fee        *big.Int
		commitment fr.Element
	}
	staged := make([]stagedShield, 0, len(reqs))
	for i := range reqs {
		pre := reqs[i].Preimage
		if err := pre.Token.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if pre.Value == nil || pre.Value.Sign() < 0 || pre.Value.BitLen() > MaxValueBits {
			return formatErr("shield value out of range")
		}
		tokenID, err := pre.Token.ID()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if p.tokenBlocked(tokenID) {
			return stateErr("token %s is blocked", pre.Token.Address)
		}
		base, fee := InclusiveFee(pre.Value, p.shieldFeeBP)
		baseFr, err := field.FromBig(base)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		adjusted := pre
		adjusted.Value = base
		staged = append(staged, stagedShield{
			preimage:   adjusted,
			token:      pre.Token,
			gross:      pre.Value,
			fee:        fee,
			commitment: note.CommitmentFromParts(pre.Npk, tokenID, baseFr),
		})
	}

	// Validation done; move value. A failed pull aborts with no pool
	// mutation, and the host reverts earlier pulls in the same batch.
	for i := range staged {
		if err := p.tokens.PullIn(ctx, caller, staged[i].token, staged[i].gross); err != nil {
			return fmt.Errorf("%w: pull-in: %v", ErrTransfer, err)
		}
		if staged[i].fee.Sign() > 0 {
			if err := p.tokens.PushOut(ctx, p.feeRecipient, staged[i].token, staged[i].fee); err != nil {
				return fmt.Errorf("%w: fee payout: %v", ErrTransfer, err)
			}
		}
	}

	commitments := make([]fr.Element, len(staged))
	preimages := make([]ShieldPreimage, len(staged))
	ciphertexts := make([]note.ShieldCiphertext, len(staged))
	for i := range staged {
		commitments[i] = staged[i].commitment
		preimages[i] = staged[i].preimage
		ciphertexts[i] = reqs[i].Ciphertext
	}
	treeNumber, startIndex, _, err := p.forest.Insert(commitments)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}

	p.sink.Publish(Event{Shield: &ShieldEvent{
		TreeNumber:  treeNumber,
		StartIndex:  startIndex,
		Preimages:   preimages,
		Ciphertexts: ciphertexts,
	}})
	p.log.Info().
		Uint32("tree", treeNumber).
		Uint64("startIndex", startIndex).
		Int("notes", len(staged)).
		Msg("shield batch accepted")
	return nil
}

// stagedTx carries everything the apply phase needs once a transaction
// validated.
type stagedTx struct {
	boundTree       uint32
	nullifiers      []fr.Element
	treeCommitments []fr.Element
	ciphertexts     []note.TransferCiphertext

	payout       *UnshieldPreimage // nil when no unshield
	payoutTo     common.Address
	payoutNet    *big.Int
	payoutFee    *big.Int
	payoutTokens note.TokenData
}

// Transact validates and applies a batch of proven transactions.
func (p *Pool) Transact(ctx context.Context, caller common.Address, gasPrice *big.Int, txs []Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	staged, err := p.validateBatch(caller, gasPrice, txs, false)
	if err != nil {
		return err
	}
	return p.applyBatch(ctx, staged)
}

// EstimateTransact runs every structural and state check but skips the
// pairing check and never mutates state. It exists so submitters can price
// a transaction before the proof is ready; the mutating path above never
// consults this bypass.
func (p *Pool) EstimateTransact(caller common.Address, gasPrice *big.Int, txs []Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.validateBatch(caller, gasPrice, txs, true)
	return err
}

// FollowUp is a relay continuation. It receives the pool itself, so relayed
// batches can only ever call back into the pool.
type FollowUp func(ctx context.Context, p *Pool) error

// RelayTransact runs a transact batch and then the follow-up calls. An
// in-progress flag set for the duration rejects reentrant relays.
func (p *Pool) RelayTransact(ctx context.Context, caller common.Address, gasPrice *big.Int, txs []Transaction, followUps []FollowUp) error {
	if !p.inRelay.CompareAndSwap(false, true) {
		return stateErr("relay already in progress")
	}
	defer p.inRelay.Store(false)

	if len(txs) > 0 {
		if err := p.Transact(ctx, caller, gasPrice, txs); err != nil {
			return err
		}
	}
	for i, f := range followUps {
		if err := f(ctx, p); err != nil {
			return fmt.Errorf("pool: relay follow-up %d: %w", i, err)
		}
	}
	return nil
}

// InRelay reports whether a relayed batch is currently executing.
func (p *Pool) InRelay() bool {
	return p.inRelay.Load()
}

// nfKey scopes a nullifier to its tree instance, matching the spent set.
type nfKey struct {
	tree uint32
	nf   [32]byte
}

func (p *Pool) validateBatch(caller common.Address, gasPrice *big.Int, txs []Transaction, estimate bool) ([]stagedTx, error) {
	if len(txs) == 0 {
		return nil, formatErr("empty transact batch")
	}
	staged := make([]stagedTx, 0, len(txs))
	seen := make(map[nfKey]struct{})
	for i := range txs {
		st, err := p.validateTx(caller, gasPrice, &txs[i], seen, estimate)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		staged = append(staged, st)
	}
	return staged, nil
}

func (p *Pool) validateTx(caller common.Address, gasPrice *big.Int, tx *Transaction, seen map[nfKey]struct{}, estimate bool) (stagedTx, error) {
	var st stagedTx

	nIn, nOut := len(tx.Nullifiers), len(tx.Commitments)
	if nIn == 0 || nIn > maxBatchSide || nOut == 0 || nOut > maxBatchSide {
		return st, formatErr("transaction shape %dx%d out of range", nIn, nOut)
	}
	if _, err := p.keys.Key(uint8(nIn), uint8(nOut)); err != nil {
		return st, fmt.Errorf("%w: %v", ErrState, err)
	}
	// The root fixes which instance the spent notes live in; the declared
	// tree number must agree, or nullifier attribution would be caller-chosen.
	rootTree, ok := p.forest.TreeForRoot(tx.MerkleRoot)
	if !ok {
		return st, stateErr("merkle root not in history")
	}
	if rootTree != tx.Bound.TreeNumber {
		return st, stateErr("declared tree %d does not match the root's instance %d", tx.Bound.TreeNumber, rootTree)
	}
	if tx.Bound.MinGasPrice != nil && tx.Bound.MinGasPrice.Sign() > 0 {
		if gasPrice == nil || gasPrice.Cmp(tx.Bound.MinGasPrice) < 0 {
			return st, stateErr("gas price below declared minimum")
		}
	}
	if tx.Bound.AdaptContract != (common.Address{}) && caller != tx.Bound.AdaptContract {
		return st, authErr("caller is not the adapt contract")
	}

	st.boundTree = rootTree
	st.nullifiers = tx.Nullifiers
	st.ciphertexts = tx.Bound.Ciphertexts
	st.treeCommitments = tx.Commitments

	switch tx.Bound.Unshield {
	case UnshieldNone:
		if tx.Unshield != nil || tx.Override != nil {
			return st, formatErr("unshield data on a transfer-only transaction")
		}
	case UnshieldNormal, UnshieldOverride:
		if tx.Unshield == nil {
			return st, formatErr("unshield preimage missing")
		}
		if err := p.validateUnshield(caller, tx, &st); err != nil {
			return st, err
		}
	default:
		return st, formatErr("unknown unshield mode %d", tx.Bound.Unshield)
	}

	if len(st.ciphertexts) != len(st.treeCommitments) {
		return st, formatErr("ciphertext count %d does not match %d tree commitments",
			len(st.ciphertexts), len(st.treeCommitments))
	}
	if uint64(len(st.treeCommitments)) > p.forest.ActiveTree().Capacity() {
		return st, formatErr("commitment batch exceeds tree capacity")
	}

	for _, nf := range tx.Nullifiers {
		key := nfKey{tree: rootTree, nf: nf.Bytes()}
		if _, dup := seen[key]; dup || p.spent.Contains(rootTree, nf) {
			return st, stateErr("nullifier already spent")
		}
		seen[key] = struct{}{}
	}

	elems := make([]fr.Element, 0, 2+nIn+nOut)
	elems = append(elems, tx.MerkleRoot, tx.Bound.Hash())
	elems = append(elems, tx.Nullifiers...)
	elems = append(elems, tx.Commitments...)
	publicHash := field.Hash(elems...)

	if !estimate {
		if err := p.keys.Verify(uint8(nIn), uint8(nOut), &tx.Proof, publicHash); err != nil {
			switch {
			case isFormatError(err):
				return st, fmt.Errorf("%w: %v", ErrFormat, err)
			default:
				return st, fmt.Errorf("%w: %v", ErrProof, err)
			}
		}
	}
	return st, nil
}

// validateUnshield checks the withheld last commitment against its declared
// preimage and resolves the payout destination.
func (p *Pool) validateUnshield(caller common.Address, tx *Transaction, st *stagedTx) error {
	u := tx.Unshield
	if err := u.Token.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if u.Value == nil || u.Value.Sign() < 0 || u.Value.BitLen() > MaxValueBits {
		return formatErr("unshield value out of range")
	}
	tokenID, err := u.Token.ID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if p.tokenBlocked(tokenID) {
		return stateErr("token %s is blocked", u.Token.Address)
	}
	valueFr, err := field.FromBig(u.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	last := tx.Commitments[len(tx.Commitments)-1]
	expect := note.CommitmentFromParts(field.FromAddress(u.Recipient), tokenID, valueFr)
	if !expect.Equal(&last) {
		return formatErr("unshield preimage does not open the last commitment")
	}

	// An override naming the declared recipient redirects nothing and is
	// accepted in any unshield mode; only actual redirection is gated.
	to := u.Recipient
	if tx.Override != nil && *tx.Override != u.Recipient {
		if tx.Bound.Unshield != UnshieldOverride {
			return authErr("destination override not enabled by the proof")
		}
		if caller != u.Recipient {
			return authErr("only the declared recipient may redirect an unshield")
		}
		to = *tx.Override
	}

	fee := ExclusiveFee(u.Value, p.unshieldFeeBP)
	st.payout = u
	st.payoutTo = to
	st.payoutNet = new(big.Int).Sub(u.Value, fee)
	st.payoutFee = fee
	st.payoutTokens = u.Token
	// The withheld commitment never enters the tree.
	st.treeCommitments = tx.Commitments[:len(tx.Commitments)-1]
	return nil
}

func (p *Pool) applyBatch(ctx context.Context, staged []stagedTx) error {
	// Nullifier inserts are the one journaled mutation: everything after
	// them either cannot fail or aborts the host transaction wholesale.
	type journaled struct {
		tree uint32
		nf   fr.Element
	}
	var journal []journaled
	rollback := func() {
		for _, e := range journal {
			p.spent.Remove(e.tree, []fr.Element{e.nf})
		}
	}

	for i := range staged {
		for _, nf := range staged[i].nullifiers {
			if err := p.spent.Insert(staged[i].boundTree, nf); err != nil {
				rollback()
				return fmt.Errorf("%w: %v", ErrState, err)
			}
			journal = append(journal, journaled{tree: staged[i].boundTree, nf: nf})
		}
	}

	for i := range staged {
		st := &staged[i]
		if st.payout == nil {
			continue
		}
		if st.payoutNet.Sign() > 0 {
			if err := p.tokens.PushOut(ctx, st.payoutTo, st.payoutTokens, st.payoutNet); err != nil {
				rollback()
				return fmt.Errorf("%w: unshield payout: %v", ErrTransfer, err)
			}
		}
		if st.payoutFee.Sign() > 0 {
			if err := p.tokens.PushOut(ctx, p.feeRecipient, st.payoutTokens, st.payoutFee); err != nil {
				rollback()
				return fmt.Errorf("%w: unshield fee: %v", ErrTransfer, err)
			}
		}
	}

	for i := range staged {
		st := &staged[i]
		treeNumber, startIndex, _, err := p.forest.Insert(st.treeCommitments)
		if err != nil {
			// Size was validated; treat as corrupted state.
			rollback()
			return fmt.Errorf("%w: %v", ErrState, err)
		}
		p.sink.Publish(Event{Nullifiers: &NullifierEvent{
			TreeNumber: st.boundTree,
			Nullifiers: st.nullifiers,
		}})
		if len(st.treeCommitments) > 0 {
			p.sink.Publish(Event{Transact: &TransactEvent{
				TreeNumber:  treeNumber,
				StartIndex:  startIndex,
				Commitments: st.treeCommitments,
				Ciphertexts: st.ciphertexts,
			}})
		}
		p.log.Info().
			Uint32("tree", treeNumber).
			Int("nullifiers", len(st.nullifiers)).
			Int("commitments", len(st.treeCommitments)).
			Bool("unshield", st.payout != nil).
			Msg("transaction applied")
	}
	return nil
}

func isFormatError(err error) bool {
	return errors.Is(err, verifier.ErrMalformedPoint) || errors.Is(err, verifier.ErrOutOfField)
}

// RegisterVerifyingKey installs the key for a transaction shape.
func (p *Pool) RegisterVerifyingKey(caller common.Address, inputs, outputs uint8, vk *verifier.VerifyingKey) error {
	if !p.auth.Authorized(caller, ActionRegisterKey) {
		return authErr("caller may not register verifying keys")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.keys.Register(inputs, outputs, vk); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	p.log.Info().Uint8("inputs", inputs).Uint8("outputs", outputs).Msg("verifying key registered")
	return nil
}

// SetFees updates the fee schedule and recipient.
func (p *Pool) SetFees(caller common.Address, shieldBP, unshieldBP uint64, recipient common.Address) error {
	if !p.auth.Authorized(caller, ActionSetFees) {
		return authErr("caller may not change fees")
	}
	if shieldBP >= BasisPointScale || unshieldBP >= BasisPointScale {
		return formatErr("fee rate at or above 100%%")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shieldFeeBP, p.unshieldFeeBP, p.feeRecipient = shieldBP, unshieldBP, recipient
	p.log.Info().Uint64("shieldBP", shieldBP).Uint64("unshieldBP", unshieldBP).Msg("fees updated")
	return nil
}

// SetTokenBlocked adds or removes a token from the blocklist.
func (p *Pool) SetTokenBlocked(caller common.Address, token note.TokenData, blocked bool) error {
	if !p.auth.Authorized(caller, ActionBlockToken) {
		return authErr("caller may not update the token blocklist")
	}
	id, err := token.ID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if blocked {
		p.blocked[id.Bytes()] = struct{}{}
	} else {
		delete(p.blocked, id.Bytes())
	}
	return nil
}

func (p *Pool) tokenBlocked(tokenID fr.Element) bool {
	_, ok := p.blocked[tokenID.Bytes()]
	return ok
}

// Root returns the active tree's current root.
func (p *Pool) Root() fr.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forest.ActiveTree().Root()
}

// TreeNumber returns the active tree's index.
func (p *Pool) TreeNumber() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forest.ActiveTree().Number()
}

// LeafCount returns the active tree's filled leaf count.
func (p *Pool) LeafCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forest.ActiveTree().LeafCount()
}

// HasRoot reports whether a root appears anywhere in the tracked history.
func (p *Pool) HasRoot(root fr.Element) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forest.HasRoot(root)
}

// HasShape reports whether a verifying key is registered for the shape.
func (p *Pool) HasShape(inputs, outputs uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.keys.Key(inputs, outputs)
	return err == nil
}

// SpentCount returns the number of recorded nullifiers.
func (p *Pool) SpentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spent.Len()
}
