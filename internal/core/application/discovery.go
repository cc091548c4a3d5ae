package application

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// Discovery finds the used addresses of a descriptor by deriving them in
// batches of gapLimit and fetching their history, until a whole batch turns
// out to have never been used.
type Discovery struct {
	client   ports.ElectrumClient
	addrSvc  ports.AddressService
	gapLimit uint32

	log func(format string, a ...interface{})
}

func NewDiscovery(
	client ports.ElectrumClient, addrSvc ports.AddressService, gapLimit uint32,
) *Discovery {
	if gapLimit == 0 {
		gapLimit = DefaultGapLimit
	}
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("discovery: %s", format)
		log.Debugf(format, a...)
	}
	return &Discovery{client, addrSvc, gapLimit, logFn}
}

// Discover returns the ordered list of addresses of the given chain of the
// descriptor, up to the last batch containing at least one used address.
func (d *Discovery) Discover(
	ctx context.Context, descriptor string, chain domain.Chain,
) (domain.AddressesInfo, error) {
	result := make(domain.AddressesInfo, 0)

	for from := uint32(0); ; from += d.gapLimit {
		addresses, err := d.addrSvc.DeriveAddresses(
			descriptor, chain, from, d.gapLimit,
		)
		if err != nil {
			return nil, err
		}

		batch, err := d.fetchHistories(ctx, addresses)
		if err != nil {
			return nil, err
		}

		if len(batch.Used()) <= 0 {
			break
		}
		result = append(result, batch...)
	}

	d.log(
		"found %d %s addresses (%d used) for %s",
		len(result), chain, len(result.Used()), descriptor,
	)
	return result, nil
}

// DiscoverAccount runs the discovery of both receive and change chains.
func (d *Discovery) DiscoverAccount(
	ctx context.Context, descriptor string,
) (receive, change domain.AddressesInfo, err error) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		receive, err = d.Discover(ctx, descriptor, domain.ChainReceive)
		return
	})
	eg.Go(func() (err error) {
		change, err = d.Discover(ctx, descriptor, domain.ChainChange)
		return
	})
	if err = eg.Wait(); err != nil {
		return nil, nil, err
	}
	return
}

// WithBalances fills the balances of the given addresses. Those without
// history are known to hold nothing and no request is made for them.
func (d *Discovery) WithBalances(
	ctx context.Context, addresses domain.AddressesInfo,
) (domain.AddressesInfo, error) {
	result := make(domain.AddressesInfo, len(addresses))
	copy(result, addresses)

	eg, ctx := errgroup.WithContext(ctx)
	for i := range result {
		i := i
		if !result[i].IsUsed() {
			continue
		}
		eg.Go(func() error {
			balance, err := d.client.GetBalance(ctx, result[i].ScriptHash)
			if err != nil {
				return err
			}
			result[i].Confirmed = balance.Confirmed
			result[i].Unconfirmed = balance.Unconfirmed
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Discovery) fetchHistories(
	ctx context.Context, addresses []domain.DerivedAddress,
) (domain.AddressesInfo, error) {
	batch := make(domain.AddressesInfo, len(addresses))

	eg, ctx := errgroup.WithContext(ctx)
	for i, addr := range addresses {
		i, addr := i, addr
		eg.Go(func() error {
			scriptHash := addr.ScriptHash()
			history, err := d.client.GetHistory(ctx, scriptHash)
			if err != nil {
				return err
			}
			batch[i] = domain.AddressInfo{
				Address:        addr.Address,
				DerivationPath: addr.DerivationPath,
				ScriptHash:     scriptHash,
				History:        history,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}
