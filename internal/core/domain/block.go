package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/block"
)

// BlockHeader is the tip header as notified by blockchain.headers.subscribe.
type BlockHeader struct {
	Height int64  `json:"height"`
	Hex    string `json:"hex"`
}

// Hash returns the hash of the header in hex format.
func (h BlockHeader) Hash() (string, error) {
	return BlockHashFromHeader(h.Hex)
}

// BlockHashFromHeader deserializes the given header and returns its hash.
// Bitcoin headers are exactly 80 bytes, anything else is parsed as an
// Elements header.
func BlockHashFromHeader(headerHex string) (string, error) {
	buf, err := hex.DecodeString(headerHex)
	if err != nil {
		return "", fmt.Errorf("%w: invalid header hex: %s", ErrProtocol, err)
	}

	if len(buf) == wire.MaxBlockHeaderPayload {
		header := &wire.BlockHeader{}
		if err := header.Deserialize(bytes.NewReader(buf)); err != nil {
			return "", fmt.Errorf("%w: invalid header: %s", ErrProtocol, err)
		}
		return header.BlockHash().String(), nil
	}

	header, err := block.DeserializeHeader(bytes.NewBuffer(buf))
	if err != nil {
		return "", fmt.Errorf("%w: invalid header: %s", ErrProtocol, err)
	}
	hash, err := header.Hash()
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// Version is the result of server.version: software version and negotiated
// protocol version.
type Version []string

// ServerInfo holds the metadata of the current connection.
type ServerInfo struct {
	URL     string
	Version Version
	Block   BlockHeader
}

// ScripthashStatus is a push notification about a change in the history of
// a scripthash. Status is empty if the scripthash has no history.
type ScripthashStatus struct {
	ScriptHash string
	Status     string
}
