package ports

import "github.com/vulpemventures/electrum-link/internal/core/domain"

// AddressService is the external collaborator deriving addresses from
// descriptors and resolving addresses to their output scripts.
type AddressService interface {
	// DeriveAddresses derives count addresses of the given chain starting at
	// index from.
	DeriveAddresses(
		descriptor string, chain domain.Chain, from, count uint32,
	) ([]domain.DerivedAddress, error)
	// OutputScript returns the locking script of the given address.
	OutputScript(address string) ([]byte, error)
	// IsAddress returns whether the given descriptor is a plain address.
	IsAddress(descriptor string) bool
}
