package hdkeychain_address

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/payment"
)

var (
	bitcoinParams = map[string]*chaincfg.Params{
		"bitcoin": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"regtest": &chaincfg.RegressionNetParams,
	}
	liquidParams = map[string]*network.Network{
		"liquid":        &network.Liquid,
		"liquidtestnet": &network.Testnet,
	}
	addressTypes = map[string]struct{}{
		AddressTypeP2PKH:      {},
		AddressTypeP2SHP2WPKH: {},
		AddressTypeP2WPKH:     {},
	}
)

type service struct {
	btcNet      *chaincfg.Params
	liquidNet   *network.Network
	addressType string
}

// NewService returns an AddressService deriving addresses for the given
// network. addressType is used for extended keys not committing to any
// address type (xpub, tpub), it defaults to p2pkh for bitcoin networks.
// Liquid networks support only p2wpkh.
func NewService(net, addressType string) (ports.AddressService, error) {
	if addressType != "" {
		if _, ok := addressTypes[addressType]; !ok {
			return nil, ErrUnknownAddressType
		}
	}

	if liquidNet, ok := liquidParams[net]; ok {
		if addressType != "" && addressType != AddressTypeP2WPKH {
			return nil, ErrUnsupportedLiquidAddressType
		}
		return &service{
			liquidNet:   liquidNet,
			addressType: AddressTypeP2WPKH,
		}, nil
	}

	btcNet, ok := bitcoinParams[net]
	if !ok {
		return nil, ErrUnknownNetwork
	}
	if addressType == "" {
		addressType = AddressTypeP2PKH
	}
	return &service{btcNet: btcNet, addressType: addressType}, nil
}

func (s *service) DeriveAddresses(
	descriptor string, chain domain.Chain, from, count uint32,
) ([]domain.DerivedAddress, error) {
	account, err := parseDescriptor(descriptor, s.addressType)
	if err != nil {
		return nil, err
	}
	if s.liquidNet != nil && account.addressType != AddressTypeP2WPKH {
		return nil, ErrUnsupportedLiquidAddressType
	}

	chainKey, err := account.key.Derive(uint32(chain))
	if err != nil {
		return nil, err
	}

	addresses := make([]domain.DerivedAddress, 0, count)
	for i := from; i < from+count; i++ {
		key, err := chainKey.Derive(i)
		if err != nil {
			return nil, err
		}
		pubkey, err := key.ECPubKey()
		if err != nil {
			return nil, err
		}

		addr, script, err := s.addressFromPubKey(pubkey, account.addressType)
		if err != nil {
			return nil, err
		}

		addresses = append(addresses, domain.DerivedAddress{
			Address:        addr,
			DerivationPath: account.origin.child(uint32(chain), i).String(),
			Script:         script,
		})
	}
	return addresses, nil
}

func (s *service) OutputScript(addr string) ([]byte, error) {
	if s.liquidNet != nil {
		script, err := address.ToOutputScript(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, err)
		}
		return script, nil
	}

	decoded, err := btcutil.DecodeAddress(addr, s.btcNet)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, err)
	}
	if !decoded.IsForNet(s.btcNet) {
		return nil, fmt.Errorf(
			"%w: address is not for network %s", ErrInvalidAddress, s.btcNet.Name,
		)
	}
	return txscript.PayToAddrScript(decoded)
}

func (s *service) IsAddress(descriptor string) bool {
	_, err := s.OutputScript(descriptor)
	return err == nil
}

func (s *service) addressFromPubKey(
	pubkey *btcec.PublicKey, addressType string,
) (string, []byte, error) {
	if s.liquidNet != nil {
		p2wpkh := payment.FromPublicKey(pubkey, s.liquidNet, nil)
		addr, err := p2wpkh.WitnessPubKeyHash()
		if err != nil {
			return "", nil, err
		}
		return addr, p2wpkh.WitnessScript, nil
	}

	pubkeyHash := btcutil.Hash160(pubkey.SerializeCompressed())

	var (
		addr btcutil.Address
		err  error
	)
	switch addressType {
	case AddressTypeP2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(pubkeyHash, s.btcNet)
	case AddressTypeP2SHP2WPKH:
		var witnessProgram []byte
		witnessProgram, err = txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(pubkeyHash).Script()
		if err != nil {
			return "", nil, err
		}
		addr, err = btcutil.NewAddressScriptHash(witnessProgram, s.btcNet)
	default:
		addr, err = btcutil.NewAddressPubKeyHash(pubkeyHash, s.btcNet)
	}
	if err != nil {
		return "", nil, err
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, err
	}
	return addr.EncodeAddress(), script, nil
}
