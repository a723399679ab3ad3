package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	escrow = common.HexToAddress("0x00000000000000000000000000000000000e5c80")
)

func tokens(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), Unit) }

func assertAmount(t *testing.T, want, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want.String(), got.String(), msgAndArgs...)
}

func TestMintAndTransfer(t *testing.T) {
	l := NewLedger("CCT")
	require.NoError(t, l.Mint(alice, tokens(100)))

	require.NoError(t, l.Transfer(alice, bob, tokens(30)))
	assertAmount(t, tokens(70), l.BalanceOf(alice))
	assertAmount(t, tokens(30), l.BalanceOf(bob))
	assertAmount(t, tokens(100), l.TotalSupply())

	err := l.Transfer(bob, alice, tokens(31))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assertAmount(t, tokens(30), l.BalanceOf(bob), "failed transfer must not move funds")

	require.ErrorIs(t, l.Transfer(alice, bob, big.NewInt(-1)), ErrInvalidAmount)
	require.ErrorIs(t, l.Mint(alice, new(big.Int)), ErrInvalidAmount)
}

func TestApproveAndTransferFrom(t *testing.T) {
	l := NewLedger("ETH")
	require.NoError(t, l.Mint(alice, tokens(10)))

	err := l.TransferFrom(escrow, alice, escrow, tokens(1))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, l.Approve(alice, escrow, tokens(4)))
	require.NoError(t, l.TransferFrom(escrow, alice, escrow, tokens(3)))
	assertAmount(t, tokens(1), l.Allowance(alice, escrow))
	assertAmount(t, tokens(3), l.BalanceOf(escrow))

	// allowance is there but the balance is not
	require.NoError(t, l.Approve(alice, escrow, tokens(100)))
	err = l.TransferFrom(escrow, alice, escrow, tokens(8))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assertAmount(t, tokens(100), l.Allowance(alice, escrow), "allowance untouched on failure")
}

func TestFrozenAccountsRejectTransfers(t *testing.T) {
	l := NewLedger("CCT")
	require.NoError(t, l.Mint(alice, tokens(5)))
	require.NoError(t, l.SetFrozen(bob, true))
	assert.True(t, l.IsFrozen(bob))

	require.ErrorIs(t, l.Transfer(alice, bob, tokens(1)), ErrTransferRejected)
	require.ErrorIs(t, l.Mint(bob, tokens(1)), ErrTransferRejected)

	require.NoError(t, l.SetFrozen(bob, false))
	require.NoError(t, l.Transfer(alice, bob, tokens(1)))
}

func TestTxIsolationAndDiscard(t *testing.T) {
	l := NewLedger("CCT")
	require.NoError(t, l.Mint(alice, tokens(10)))

	tx := l.Begin()
	require.NoError(t, tx.Transfer(alice, bob, tokens(4)))
	require.NoError(t, tx.Transfer(bob, escrow, tokens(1)))

	assertAmount(t, tokens(3), tx.BalanceOf(bob), "tx sees its own writes")
	assertAmount(t, new(big.Int), l.BalanceOf(bob), "ledger does not see staged writes")

	tx.Discard()
	assertAmount(t, tokens(10), l.BalanceOf(alice))
	require.Error(t, tx.Commit(), "discarded tx cannot commit")
}

func TestTxCommitAndChanges(t *testing.T) {
	l := NewLedger("CCT")
	require.NoError(t, l.Mint(alice, tokens(10)))

	tx := l.Begin()
	require.NoError(t, tx.Approve(alice, escrow, tokens(2)))
	require.NoError(t, tx.TransferFrom(escrow, alice, escrow, tokens(2)))
	require.NoError(t, tx.Mint(bob, tokens(1)))

	c := tx.Changes()
	assert.Equal(t, "CCT", c.Symbol)
	assertAmount(t, tokens(8), c.Balances[alice])
	assertAmount(t, tokens(2), c.Balances[escrow])
	assertAmount(t, new(big.Int), c.Allowances[alice][escrow])
	assertAmount(t, tokens(11), c.Supply)
	assert.False(t, c.Empty())

	require.NoError(t, tx.Commit())
	assertAmount(t, tokens(8), l.BalanceOf(alice))
	assertAmount(t, tokens(11), l.TotalSupply())
	assert.Equal(t, []common.Address{escrow, alice, bob}, l.Holders())
}

func TestTxConflict(t *testing.T) {
	l := NewLedger("CCT")
	require.NoError(t, l.Mint(alice, tokens(10)))

	stale := l.Begin()
	require.NoError(t, stale.Transfer(alice, bob, tokens(10)))
	require.NoError(t, l.Transfer(alice, escrow, tokens(10)))

	require.ErrorIs(t, stale.Commit(), ErrConflict)
	assertAmount(t, new(big.Int), l.BalanceOf(bob))
}

func TestRestore(t *testing.T) {
	l := NewLedger("CCT")
	l.Restore(State{
		Balances:   map[common.Address]*big.Int{alice: tokens(7)},
		Allowances: map[common.Address]map[common.Address]*big.Int{alice: {escrow: tokens(2)}},
		Frozen:     map[common.Address]bool{bob: true},
		Supply:     tokens(7),
	})
	assertAmount(t, tokens(7), l.BalanceOf(alice))
	assertAmount(t, tokens(2), l.Allowance(alice, escrow))
	assert.True(t, l.IsFrozen(bob))
	assertAmount(t, tokens(7), l.TotalSupply())
}
