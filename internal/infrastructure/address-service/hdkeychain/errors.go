package hdkeychain_address

import (
	"errors"
	"fmt"

	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

var (
	ErrUnknownNetwork = fmt.Errorf(
		"%w: network must be one of bitcoin, testnet, regtest, liquid, liquidtestnet",
		domain.ErrConfig,
	)
	ErrUnknownAddressType = fmt.Errorf(
		"%w: address type must be one of p2pkh, p2sh-p2wpkh, p2wpkh",
		domain.ErrConfig,
	)
	ErrUnsupportedLiquidAddressType = fmt.Errorf(
		"%w: only p2wpkh addresses are supported for liquid networks",
		domain.ErrConfig,
	)
	ErrInvalidDescriptor       = errors.New("invalid descriptor")
	ErrPrivateDescriptor       = errors.New("descriptor must be an extended public key")
	ErrMalformedDerivationPath = errors.New("malformed derivation path")
	ErrInvalidAddress          = errors.New("invalid address")
)
