package carbon

import (
	"errors"

	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/app/core/transaction"
)

// Result codes reported in TxResult.Code
const (
	CodeOK uint32 = iota
	CodeMalformed
	CodeBadSignature
	CodeStaleNonce
	CodeExpired
	CodeInvalidOrder
	CodeInsufficientFunds
	CodeNotFound
	CodeUnauthorized
	CodeAlreadyTerminal
	CodeTransferFailed
	CodeInternal
)

var (
	ErrStaleNonce = errors.New("stale nonce")
	ErrExpired    = errors.New("deadline passed")
)

// CodeFor maps an execution error to its result code
func CodeFor(err error) uint32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, transaction.ErrMalformed):
		return CodeMalformed
	case errors.Is(err, transaction.ErrBadSignature):
		return CodeBadSignature
	case errors.Is(err, ErrStaleNonce):
		return CodeStaleNonce
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ledger.ErrInvalidOrder):
		return CodeInvalidOrder
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ledger.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ledger.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ledger.ErrAlreadyTerminal):
		return CodeAlreadyTerminal
	case errors.Is(err, ledger.ErrTransferFailed):
		return CodeTransferFailed
	}
	return CodeInternal
}
