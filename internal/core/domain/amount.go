package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// satoshiExponent is the decimal scale between the fractional-coin amounts
// returned by the server and satoshis.
const satoshiExponent = 8

// ToSatoshis converts a fractional-coin amount as found in verbose
// transactions (ie. 0.00012345) to satoshis. The conversion is exact: the
// value is parsed as a decimal literal and never goes through a float.
func ToSatoshis(value json.Number) (int64, error) {
	if value == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(value.String())
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrProtocol, value)
	}
	return DecimalToSatoshis(d)
}

// DecimalToSatoshis scales a fractional-coin decimal to satoshis. Values with
// more than 8 decimal digits are rejected rather than rounded.
func DecimalToSatoshis(d decimal.Decimal) (int64, error) {
	sats := d.Shift(satoshiExponent)
	if !sats.Equal(sats.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has sub-satoshi precision", ErrProtocol, d)
	}
	return sats.IntPart(), nil
}

// SatoshisToCoin is the inverse of DecimalToSatoshis.
func SatoshisToCoin(sats int64) decimal.Decimal {
	return decimal.New(sats, -satoshiExponent)
}
