package hdkeychain_address

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// derivationPath is a list of BIP32 child indexes.
type derivationPath []uint32

// parseDerivationPath parses paths like m/84'/0'/0' or 84h/0h/0h. The m/
// prefix is optional.
func parseDerivationPath(str string) (derivationPath, error) {
	str = strings.TrimPrefix(strings.TrimSpace(str), "m/")
	if str == "" || str == "m" {
		return derivationPath{}, nil
	}

	elems := strings.Split(str, "/")
	path := make(derivationPath, 0, len(elems))
	for _, elem := range elems {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			return nil, ErrMalformedDerivationPath
		}

		var value uint32
		if strings.HasSuffix(elem, "'") || strings.HasSuffix(elem, "h") {
			value = hdkeychain.HardenedKeyStart
			elem = elem[:len(elem)-1]
		}

		index, ok := new(big.Int).SetString(elem, 10)
		if !ok {
			return nil, fmt.Errorf("%w: invalid elem '%s'", ErrMalformedDerivationPath, elem)
		}
		max := math.MaxUint32 - value
		if index.Sign() < 0 || index.Cmp(big.NewInt(int64(max))) > 0 {
			return nil, fmt.Errorf(
				"%w: elem %v must be in range [0, %d]",
				ErrMalformedDerivationPath, index, max,
			)
		}
		path = append(path, value+uint32(index.Uint64()))
	}
	return path, nil
}

func (p derivationPath) child(indexes ...uint32) derivationPath {
	path := make(derivationPath, 0, len(p)+len(indexes))
	path = append(path, p...)
	return append(path, indexes...)
}

func (p derivationPath) String() string {
	result := "m"
	for _, index := range p {
		if index >= hdkeychain.HardenedKeyStart {
			result = fmt.Sprintf("%s/%d'", result, index-hdkeychain.HardenedKeyStart)
			continue
		}
		result = fmt.Sprintf("%s/%d", result, index)
	}
	return result
}
