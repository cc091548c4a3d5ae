package application

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// AccountService computes account-level views out of the addresses of a
// descriptor:
//   - Get info (balances, history totals, addresses and paged history).
//   - List unspents.
//   - Get the balance history grouped by time.
//
// A descriptor can be either a plain address or an extended public key. In
// the latter case, the addresses are found by running the discovery of both
// receive and change chains. Nothing is stored, every view is computed fresh
// for every request.
type AccountService struct {
	client    ports.ElectrumClient
	addrSvc   ports.AddressService
	discovery *Discovery
	txSvc     *TransactionService

	log func(format string, a ...interface{})
}

func NewAccountService(
	client ports.ElectrumClient, addrSvc ports.AddressService,
	discovery *Discovery, txSvc *TransactionService,
) *AccountService {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("account service: %s", format)
		log.Debugf(format, a...)
	}
	return &AccountService{client, addrSvc, discovery, txSvc, logFn}
}

func (as *AccountService) GetAccountInfo(
	ctx context.Context, req AccountInfoRequest,
) (*domain.AccountInfo, error) {
	if req.Descriptor == "" {
		return nil, domain.ErrMissingDescriptor
	}

	receive, change, err := as.getAccountAddresses(ctx, req.Descriptor)
	if err != nil {
		return nil, err
	}
	if receive, err = as.discovery.WithBalances(ctx, receive); err != nil {
		return nil, err
	}
	if change, err = as.discovery.WithBalances(ctx, change); err != nil {
		return nil, err
	}

	all := append(append(domain.AddressesInfo{}, receive...), change...)
	confirmed, unconfirmed := all.Balance()
	history := sortHistory(all.History())
	unconfirmedCount := 0
	for _, entry := range history {
		if !entry.IsConfirmed() {
			unconfirmedCount++
		}
	}

	info := &domain.AccountInfo{
		Descriptor:       req.Descriptor,
		Balance:          confirmed,
		AvailableBalance: confirmed + unconfirmed,
		Empty:            len(history) <= 0,
		History: domain.AccountHistory{
			Total:       len(history) - unconfirmedCount,
			Unconfirmed: unconfirmedCount,
		},
	}

	switch req.Details {
	case domain.DetailsTokens, domain.DetailsTokenBalances:
		if as.addrSvc.IsAddress(req.Descriptor) {
			break
		}
		withBalance := req.Details == domain.DetailsTokenBalances
		info.Addresses = &domain.AccountAddresses{
			Change: toAddresses(change, withBalance),
			Used:   toAddresses(receive.Used(), withBalance),
			Unused: toAddresses(receive.Unused(), withBalance),
		}
	case domain.DetailsTxids, domain.DetailsTxs:
		page, txids := paginate(history, req.Page, req.PageSize)
		info.Page = page
		if req.Details == domain.DetailsTxids {
			info.History.Txids = txids
			break
		}
		txs, err := as.txSvc.GetTransactions(ctx, txids)
		if err != nil {
			return nil, err
		}
		info.History.Transactions = txs
	}

	return info, nil
}

func (as *AccountService) GetAccountUtxo(
	ctx context.Context, descriptor string,
) ([]domain.AccountUtxo, error) {
	if descriptor == "" {
		return nil, domain.ErrMissingDescriptor
	}

	receive, change, err := as.getAccountAddresses(ctx, descriptor)
	if err != nil {
		return nil, err
	}
	addresses := append(receive.Used(), change.Used()...)

	var tip int64
	if info, ok := as.client.GetInfo(); ok {
		tip = info.Block.Height
	}

	unspents := make([][]domain.AccountUtxo, len(addresses))
	eg, ctx := errgroup.WithContext(ctx)
	for i, addr := range addresses {
		i, addr := i, addr
		eg.Go(func() error {
			list, err := as.client.ListUnspent(ctx, addr.ScriptHash)
			if err != nil {
				return err
			}
			utxos := make([]domain.AccountUtxo, 0, len(list))
			for _, u := range list {
				utxo := domain.AccountUtxo{
					TxID:        u.TxHash,
					Vout:        u.TxPos,
					Amount:      u.Value,
					BlockHeight: -1,
					Address:     addr.Address,
					Path:        addr.DerivationPath,
				}
				if u.Height > 0 {
					utxo.BlockHeight = u.Height
					if tip >= u.Height {
						utxo.Confirmations = tip - u.Height + 1
					}
				}
				utxos = append(utxos, utxo)
			}
			unspents[i] = utxos
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	utxos := make([]domain.AccountUtxo, 0)
	for _, list := range unspents {
		utxos = append(utxos, list...)
	}
	return utxos, nil
}

// GetAccountBalanceHistory returns the movements of the account grouped in
// buckets of req.GroupBy seconds, sorted by time. Unconfirmed txs are not
// included since they have no block time yet.
func (as *AccountService) GetAccountBalanceHistory(
	ctx context.Context, req BalanceHistoryRequest,
) ([]domain.BalanceHistoryEntry, error) {
	if req.Descriptor == "" {
		return nil, domain.ErrMissingDescriptor
	}
	groupBy := req.GroupBy
	if groupBy <= 0 {
		groupBy = DefaultBalanceGroupBy
	}

	receive, change, err := as.getAccountAddresses(ctx, req.Descriptor)
	if err != nil {
		return nil, err
	}
	all := append(append(domain.AddressesInfo{}, receive...), change...)

	ownAddresses := make(map[string]struct{})
	txids := make([]string, 0)
	for _, addr := range all.Used() {
		ownAddresses[addr.Address] = struct{}{}
		for _, entry := range addr.History {
			if entry.IsConfirmed() {
				txids = append(txids, entry.TxHash)
			}
		}
	}

	txs, err := as.txSvc.GetTransactions(ctx, txids)
	if err != nil {
		return nil, err
	}

	buckets := make(map[int64]*domain.BalanceHistoryEntry)
	for _, tx := range txs {
		if tx.BlockTime <= 0 {
			continue
		}
		if req.From > 0 && tx.BlockTime < req.From {
			continue
		}
		if req.To > 0 && tx.BlockTime > req.To {
			continue
		}

		var sent, received int64
		for _, in := range tx.Vin {
			if containsAny(in.Addresses, ownAddresses) {
				sent += in.Value
			}
		}
		for _, out := range tx.Vout {
			if containsAny(out.Addresses, ownAddresses) {
				received += out.Value
			}
		}

		bucketTime := tx.BlockTime - tx.BlockTime%groupBy
		bucket, ok := buckets[bucketTime]
		if !ok {
			bucket = &domain.BalanceHistoryEntry{Time: bucketTime}
			buckets[bucketTime] = bucket
		}
		bucket.Txs++
		bucket.Received += received
		bucket.Sent += sent
		if sent > 0 {
			bucket.SentToSelf += received
		}
	}

	history := make([]domain.BalanceHistoryEntry, 0, len(buckets))
	for _, bucket := range buckets {
		history = append(history, *bucket)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Time < history[j].Time
	})
	return history, nil
}

// getAccountAddresses returns the addresses with their history of the given
// descriptor. A plain address is returned as the only receive address.
func (as *AccountService) getAccountAddresses(
	ctx context.Context, descriptor string,
) (receive, change domain.AddressesInfo, err error) {
	if !as.addrSvc.IsAddress(descriptor) {
		return as.discovery.DiscoverAccount(ctx, descriptor)
	}

	script, err := as.addrSvc.OutputScript(descriptor)
	if err != nil {
		return nil, nil, err
	}
	scriptHash := domain.ScriptHash(script)
	history, err := as.client.GetHistory(ctx, scriptHash)
	if err != nil {
		return nil, nil, err
	}

	as.log("found %d txs for address %s", len(history), descriptor)
	receive = domain.AddressesInfo{{
		Address:    descriptor,
		ScriptHash: scriptHash,
		History:    history,
	}}
	return receive, domain.AddressesInfo{}, nil
}

// sortHistory returns the history without duplicates, newest first, with
// mempool txs on top.
func sortHistory(history []domain.HistoryEntry) []domain.HistoryEntry {
	seen := make(map[string]struct{})
	res := make([]domain.HistoryEntry, 0, len(history))
	for _, entry := range history {
		if _, ok := seen[entry.TxHash]; ok {
			continue
		}
		seen[entry.TxHash] = struct{}{}
		res = append(res, entry)
	}

	sort.SliceStable(res, func(i, j int) bool {
		hi, hj := res[i].Height, res[j].Height
		if !res[i].IsConfirmed() && res[j].IsConfirmed() {
			return true
		}
		if res[i].IsConfirmed() != res[j].IsConfirmed() {
			return false
		}
		if hi != hj {
			return hi > hj
		}
		return res[i].TxHash < res[j].TxHash
	})
	return res
}

// paginate returns the page and the txids of the page of the given history.
// Pages are 1-indexed, out of range pages are empty.
func paginate(
	history []domain.HistoryEntry, index, size int,
) (*domain.Page, []string) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if index <= 0 {
		index = 1
	}
	total := (len(history) + size - 1) / size
	if total <= 0 {
		total = 1
	}

	txids := make([]string, 0, size)
	start := (index - 1) * size
	for i := start; i < len(history) && i < start+size; i++ {
		txids = append(txids, history[i].TxHash)
	}
	return &domain.Page{Index: index, Size: size, Total: total}, txids
}

func toAddresses(
	addresses domain.AddressesInfo, withBalance bool,
) []domain.Address {
	list := make([]domain.Address, 0, len(addresses))
	for _, addr := range addresses {
		item := domain.Address{
			Address:   addr.Address,
			Path:      addr.DerivationPath,
			Transfers: len(addr.History),
		}
		if withBalance && addr.IsUsed() {
			balance := addr.Confirmed + addr.Unconfirmed
			item.Balance = &balance
		}
		list = append(list, item)
	}
	return list
}

func containsAny(list []string, set map[string]struct{}) bool {
	for _, item := range list {
		if _, ok := set[item]; ok {
			return true
		}
	}
	return false
}
