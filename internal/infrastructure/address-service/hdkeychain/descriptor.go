package hdkeychain_address

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	AddressTypeP2PKH      = "p2pkh"
	AddressTypeP2SHP2WPKH = "p2sh-p2wpkh"
	AddressTypeP2WPKH     = "p2wpkh"
)

// SLIP-132 prefixes of extended public keys committing to an address type.
var addressTypeByPrefix = map[string]string{
	"ypub": AddressTypeP2SHP2WPKH,
	"upub": AddressTypeP2SHP2WPKH,
	"zpub": AddressTypeP2WPKH,
	"vpub": AddressTypeP2WPKH,
}

var addressTypeByWrapper = []struct {
	prefix, suffix, addressType string
}{
	{"sh(wpkh(", "))", AddressTypeP2SHP2WPKH},
	{"wpkh(", ")", AddressTypeP2WPKH},
	{"pkh(", ")", AddressTypeP2PKH},
}

// accountKey is the parsed form of an account descriptor.
type accountKey struct {
	key         *hdkeychain.ExtendedKey
	addressType string
	origin      derivationPath
}

// parseDescriptor accepts a bare extended public key or an output descriptor
// with optional key origin, like wpkh([d34db33f/84'/0'/0']xpub.../0/*). The
// chain and index of the descriptor are ignored, addresses are always
// derived at <key>/<chain>/<index>.
func parseDescriptor(descriptor, defaultType string) (*accountKey, error) {
	str := strings.TrimSpace(descriptor)
	if i := strings.Index(str, "#"); i >= 0 {
		str = str[:i]
	}

	addressType := ""
	for _, w := range addressTypeByWrapper {
		if strings.HasPrefix(str, w.prefix) && strings.HasSuffix(str, w.suffix) {
			str = strings.TrimSuffix(strings.TrimPrefix(str, w.prefix), w.suffix)
			addressType = w.addressType
			break
		}
	}

	var origin derivationPath
	if strings.HasPrefix(str, "[") {
		end := strings.Index(str, "]")
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated key origin", ErrInvalidDescriptor)
		}
		elems := strings.SplitN(str[1:end], "/", 2)
		if fingerprint, err := hex.DecodeString(elems[0]); err != nil ||
			len(fingerprint) != 4 {
			return nil, fmt.Errorf("%w: invalid key fingerprint", ErrInvalidDescriptor)
		}
		if len(elems) > 1 {
			path, err := parseDerivationPath(elems[1])
			if err != nil {
				return nil, err
			}
			origin = path
		}
		str = str[end+1:]
	}

	if i := strings.Index(str, "/"); i >= 0 {
		str = str[:i]
	}

	key, err := hdkeychain.NewKeyFromString(str)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDescriptor, err)
	}
	if key.IsPrivate() {
		return nil, ErrPrivateDescriptor
	}

	if addressType == "" && len(str) >= 4 {
		addressType = addressTypeByPrefix[str[:4]]
	}
	if addressType == "" {
		addressType = defaultType
	}

	return &accountKey{key, addressType, origin}, nil
}
