// adapters.go - External collaborator interfaces and in-memory implementations.

package pool

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkshield/shieldpool/internal/note"
)

// TokenAdapter moves plaintext value across the pool boundary. It is
// invoked inside an atomic validator batch: a returned error aborts the
// batch, and the host execution environment is expected to revert any
// transfers the failed batch already made.
type TokenAdapter interface {
	// PullIn debits `from` by `amount` of `token` in favor of the pool.
	PullIn(ctx context.Context, from common.Address, token note.TokenData, amount *big.Int) error
	// PushOut credits `to` by `amount` of `token` out of the pool.
	PushOut(ctx context.Context, to common.Address, token note.TokenData, amount *big.Int) error
}

// Governance actions gated by an Authorizer.
const (
	ActionSetFees     = "set-fees"
	ActionRegisterKey = "register-verifying-key"
	ActionBlockToken  = "block-token"
)

// Authorizer answers whether a caller may perform a governance action.
// The pool treats it as opaque; policy lives entirely behind it.
type Authorizer interface {
	Authorized(caller common.Address, action string) bool
}

// StaticAuthorizer allows a fixed set of admin addresses to perform
// every governance action.
type StaticAuthorizer struct {
	admins map[common.Address]struct{}
}

func NewStaticAuthorizer(admins ...common.Address) *StaticAuthorizer {
	a := &StaticAuthorizer{admins: make(map[common.Address]struct{}, len(admins))}
	for _, addr := range admins {
		a.admins[addr] = struct{}{}
	}
	return a
}

func (a *StaticAuthorizer) Authorized(caller common.Address, _ string) bool {
	_, ok := a.admins[caller]
	return ok
}

// MemoryTokenAdapter is a balance-map token ledger for tests and the
// local daemon. The pool's own holdings are tracked under poolAccount.
type MemoryTokenAdapter struct {
	mu       sync.Mutex
	balances map[balanceKey]*big.Int
}

// Balances are keyed by the token's derived field ID rather than the raw
// TokenData, which carries an uncomparable *big.Int sub ID.
type balanceKey struct {
	holder common.Address
	token  [32]byte
}

var poolAccount = common.HexToAddress("0x0000000000000000000000000000000000000001")

func NewMemoryTokenAdapter() *MemoryTokenAdapter {
	return &MemoryTokenAdapter{balances: make(map[balanceKey]*big.Int)}
}

func tokenKey(holder common.Address, token note.TokenData) (balanceKey, error) {
	id, err := token.ID()
	if err != nil {
		return balanceKey{}, err
	}
	return balanceKey{holder: holder, token: id.Bytes()}, nil
}

// Mint credits an address out of thin air. Test/demo setup only.
func (m *MemoryTokenAdapter) Mint(holder common.Address, token note.TokenData, amount *big.Int) {
	key, err := tokenKey(holder, token)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(key, amount)
}

func (m *MemoryTokenAdapter) Balance(holder common.Address, token note.TokenData) *big.Int {
	key, err := tokenKey(holder, token)
	if err != nil {
		return new(big.Int)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *MemoryTokenAdapter) PullIn(_ context.Context, from common.Address, token note.TokenData, amount *big.Int) error {
	fromKey, err := tokenKey(from, token)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debit(fromKey, amount); err != nil {
		return err
	}
	m.credit(balanceKey{holder: poolAccount, token: fromKey.token}, amount)
	return nil
}

func (m *MemoryTokenAdapter) PushOut(_ context.Context, to common.Address, token note.TokenData, amount *big.Int) error {
	toKey, err := tokenKey(to, token)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debit(balanceKey{holder: poolAccount, token: toKey.token}, amount); err != nil {
		return err
	}
	m.credit(toKey, amount)
	return nil
}

func (m *MemoryTokenAdapter) credit(key balanceKey, amount *big.Int) {
	b, ok := m.balances[key]
	if !ok {
		b = new(big.Int)
		m.balances[key] = b
	}
	b.Add(b, amount)
}

func (m *MemoryTokenAdapter) debit(key balanceKey, amount *big.Int) error {
	b, ok := m.balances[key]
	if !ok || b.Cmp(amount) < 0 {
		return ErrTransfer
	}
	b.Sub(b, amount)
	return nil
}
