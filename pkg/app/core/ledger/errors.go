package ledger

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/carbonledger/pkg/app/core/token"
)

// Error kinds surfaced by ledger operations. Match with errors.Is.
var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAlreadyTerminal   = errors.New("already terminal")
	ErrTransferFailed    = errors.New("transfer failed")
)

// tokenErr maps a token ledger error to the ledger's error kinds.
func tokenErr(err error) error {
	switch {
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case errors.Is(err, token.ErrInvalidAmount):
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
}

// transferErr classifies a token error raised during settlement or refund.
func transferErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransferFailed, step, err)
}
