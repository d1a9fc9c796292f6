package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrDeclined carries the provider's refusal; definitive.
	ErrDeclined = errors.New("charge declined")
	// ErrUnsupportedMethod rejects methods no provider handles.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// Provider captures one payment rail. Charge returns the provider transaction
// reference or ErrDeclined.
type Provider interface {
	Name() string
	Charge(amount int64, currency string) (string, error)
}

// CardProvider routes card charges through the domestic card switch.
type CardProvider struct {
	MaxAmount int64
}

func (p CardProvider) Name() string { return "napas" }

func (p CardProvider) Charge(amount int64, currency string) (string, error) {
	if amount > p.MaxAmount {
		return "", fmt.Errorf("%w: amount %d exceeds card limit %d", ErrDeclined, amount, p.MaxAmount)
	}
	return "napas-" + uuid.NewString(), nil
}

// WalletProvider handles e-wallet charges; VND only.
type WalletProvider struct {
	MaxAmount int64
}

func (p WalletProvider) Name() string { return "momo" }

func (p WalletProvider) Charge(amount int64, currency string) (string, error) {
	if currency != "VND" {
		return "", fmt.Errorf("%w: wallet supports VND only, got %s", ErrDeclined, currency)
	}
	if amount > p.MaxAmount {
		return "", fmt.Errorf("%w: amount %d exceeds wallet limit %d", ErrDeclined, amount, p.MaxAmount)
	}
	return "momo-" + uuid.NewString(), nil
}

// BankTransferProvider handles QR bank transfers; VND only.
type BankTransferProvider struct {
	MaxAmount int64
}

func (p BankTransferProvider) Name() string { return "vietqr" }

func (p BankTransferProvider) Charge(amount int64, currency string) (string, error) {
	if currency != "VND" {
		return "", fmt.Errorf("%w: bank transfer supports VND only, got %s", ErrDeclined, currency)
	}
	if amount > p.MaxAmount {
		return "", fmt.Errorf("%w: amount %d exceeds transfer limit %d", ErrDeclined, amount, p.MaxAmount)
	}
	return "vietqr-" + uuid.NewString(), nil
}

// SelectProvider resolves the rail for a charge exactly once; callers hold the
// result for the whole charge instead of re-resolving per attempt.
func SelectProvider(method string, maxAmount int64) (Provider, error) {
	switch method {
	case "CARD":
		return CardProvider{MaxAmount: maxAmount}, nil
	case "WALLET":
		return WalletProvider{MaxAmount: maxAmount}, nil
	case "BANK_TRANSFER":
		return BankTransferProvider{MaxAmount: maxAmount}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
}
