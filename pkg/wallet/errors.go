package wallet

import (
	"errors"
	"fmt"
	"strings"
)

// Session-level error values.
var (
	ErrWalletNotFound           = errors.New("wallet not found")
	ErrSelectionRequired        = errors.New("wallet selection required")
	ErrWalletConnectionRejected = errors.New("wallet connection rejected")
	ErrConnectionAbandoned      = errors.New("wallet connection abandoned")
	ErrNotConnected             = errors.New("wallet not connected")
	ErrNotTrusted               = errors.New("wallet does not trust this application")
	ErrSigningUnsupported       = errors.New("wallet cannot sign transactions")
	ErrSessionClosed            = errors.New("wallet session closed")
	ErrInvalidSessionConfig     = errors.New("invalid wallet session config")
)

// SelectionRequiredError asks the caller to pick a provider before connecting.
// With no candidates it matches ErrWalletNotFound and carries install links;
// otherwise it matches ErrSelectionRequired.
type SelectionRequiredError struct {
	Candidates   []Provider
	InstallLinks []InstallLink
}

func (selectionError *SelectionRequiredError) Error() string {
	if len(selectionError.Candidates) == 0 {
		return fmt.Sprintf("%s: install one of %d supported wallets", ErrWalletNotFound, len(selectionError.InstallLinks))
	}
	names := make([]string, 0, len(selectionError.Candidates))
	for _, candidate := range selectionError.Candidates {
		names = append(names, candidate.Name)
	}
	return fmt.Sprintf("%s: choose one of %s", ErrSelectionRequired, strings.Join(names, ", "))
}

func (selectionError *SelectionRequiredError) Is(target error) bool {
	if len(selectionError.Candidates) == 0 {
		return target == ErrWalletNotFound
	}
	return target == ErrSelectionRequired
}
