package domain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ScriptHash returns the electrum scripthash of the given output script, that
// is the sha256 of the script in reversed byte order, hex encoded.
func ScriptHash(script []byte) string {
	hash := chainhash.Hash(sha256.Sum256(script))
	return hash.String()
}

// ScriptHashFromHex is like ScriptHash but takes the script in hex format.
func ScriptHashFromHex(script string) (string, error) {
	buf, err := hex.DecodeString(script)
	if err != nil {
		return "", err
	}
	return ScriptHash(buf), nil
}
