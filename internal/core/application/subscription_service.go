package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

const (
	notificationTimeout     = 30 * time.Second
	notificationChannelSize = 100
)

var ErrInvalidSubscriptionType = fmt.Errorf(
	"%w: subscription type must be one of %s, %s or %s",
	domain.ErrConfig, SubscribeAddresses, SubscribeAccounts, SubscribeBlocks,
)

// SubscriptionService translates requests to watch addresses, accounts or
// blocks into Electrum subscriptions, and routes the push notifications back
// as domain.Notification on the channel returned by Notifications().
//
// A single listener for scripthash status changes is registered as long as
// at least one scripthash is watched. Every notification is reconciled with
// the known history of the scripthash to find the txs that changed, which are
// then reconstructed with the TransactionService.
//
// The server drops every subscription on disconnection, therefore the service
// resets itself whenever the client reports the end of the connection.
type SubscriptionService struct {
	client    ports.ElectrumClient
	addrSvc   ports.AddressService
	discovery *Discovery
	txSvc     *TransactionService
	manager   *addressManager

	lock       *sync.Mutex
	statusSub  *ports.Subscription
	headersSub *ports.Subscription
	closeSub   ports.Subscription

	chNotifications chan domain.Notification
	chQuit          chan struct{}
	closeOnce       *sync.Once

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewSubscriptionService(
	client ports.ElectrumClient, addrSvc ports.AddressService,
	discovery *Discovery, txSvc *TransactionService,
) *SubscriptionService {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("subscription service: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("subscription service: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	ss := &SubscriptionService{
		client:          client,
		addrSvc:         addrSvc,
		discovery:       discovery,
		txSvc:           txSvc,
		manager:         newAddressManager(),
		lock:            &sync.Mutex{},
		chNotifications: make(chan domain.Notification, notificationChannelSize),
		chQuit:          make(chan struct{}),
		closeOnce:       &sync.Once{},
		log:             logFn,
		warn:            warnFn,
	}
	ss.closeSub = client.OnClose(ss.onClose)
	return ss
}

// Notifications returns the channel where address and block notifications are
// sent. Nothing is sent anymore once the service is closed.
func (ss *SubscriptionService) Notifications() <-chan domain.Notification {
	return ss.chNotifications
}

// Subscribe starts watching the addresses, accounts or blocks of the request.
// It reports Subscribed false if everything was already watched.
func (ss *SubscriptionService) Subscribe(
	ctx context.Context, req SubscribeRequest,
) (*SubscribeResult, error) {
	if req.Type == SubscribeBlocks {
		ss.lock.Lock()
		defer ss.lock.Unlock()

		if ss.headersSub != nil {
			return &SubscribeResult{false}, nil
		}
		sub := ss.client.OnHeaders(ss.onHeaders)
		ss.headersSub = &sub
		return &SubscribeResult{true}, nil
	}

	added, toSeed, err := ss.addWatches(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(added) <= 0 {
		return &SubscribeResult{false}, nil
	}

	ss.lock.Lock()
	if ss.statusSub == nil {
		sub := ss.client.OnScripthashStatus(ss.onScripthashStatus)
		ss.statusSub = &sub
		ss.log("registered listener for scripthash notifications")
	}
	ss.lock.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, scriptHash := range added {
		scriptHash := scriptHash
		eg.Go(func() error {
			status, err := ss.client.SubscribeScripthash(egCtx, scriptHash)
			if err != nil {
				return err
			}
			if _, ok := toSeed[scriptHash]; !ok || status == "" {
				return nil
			}
			history, err := ss.client.GetHistory(egCtx, scriptHash)
			if err != nil {
				return err
			}
			ss.manager.seed(scriptHash, history)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		ss.manager.remove(added)
		ss.removeStatusListenerIfIdle()
		return nil, err
	}

	ss.log("subscribed to %d new scripthashes", len(added))
	return &SubscribeResult{true}, nil
}

// Unsubscribe stops watching the addresses, accounts or blocks of the
// request. It always reports Subscribed false.
func (ss *SubscriptionService) Unsubscribe(
	ctx context.Context, req SubscribeRequest,
) (*SubscribeResult, error) {
	var removed []string
	switch req.Type {
	case SubscribeBlocks:
		ss.lock.Lock()
		if ss.headersSub != nil {
			ss.client.Off(*ss.headersSub)
			ss.headersSub = nil
		}
		ss.lock.Unlock()
		return &SubscribeResult{false}, nil
	case SubscribeAddresses:
		scriptHashes := make([]string, 0, len(req.Addresses))
		for _, addr := range req.Addresses {
			script, err := ss.addrSvc.OutputScript(addr)
			if err != nil {
				return nil, err
			}
			scriptHashes = append(scriptHashes, domain.ScriptHash(script))
		}
		removed = ss.manager.remove(scriptHashes)
	case SubscribeAccounts:
		removed = make([]string, 0)
		for _, account := range req.Accounts {
			removed = append(removed, ss.manager.removeDescriptor(account.Descriptor)...)
		}
	default:
		return nil, ErrInvalidSubscriptionType
	}

	if len(removed) <= 0 {
		return &SubscribeResult{false}, nil
	}

	if ss.removeStatusListenerIfIdle() {
		return &SubscribeResult{false}, nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, scriptHash := range removed {
		scriptHash := scriptHash
		eg.Go(func() error {
			_, err := ss.client.UnsubscribeScripthash(ctx, scriptHash)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	ss.log("unsubscribed from %d scripthashes", len(removed))
	return &SubscribeResult{false}, nil
}

// Reset drops every watch and listener. It runs on its own when the
// connection ends, since the server forgets about subscriptions then.
func (ss *SubscriptionService) Reset() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	if ss.statusSub != nil {
		ss.client.Off(*ss.statusSub)
		ss.statusSub = nil
	}
	if ss.headersSub != nil {
		ss.client.Off(*ss.headersSub)
		ss.headersSub = nil
	}
	ss.manager.reset()
}

func (ss *SubscriptionService) Close() {
	ss.closeOnce.Do(func() {
		ss.client.Off(ss.closeSub)
		close(ss.chQuit)
	})
	ss.Reset()
}

// addWatches resolves the addresses of the request and adds them to the watch
// map. It returns the scripthashes newly watched, and among these those whose
// history is unknown yet.
func (ss *SubscriptionService) addWatches(
	ctx context.Context, req SubscribeRequest,
) ([]string, map[string]struct{}, error) {
	added := make([]string, 0)
	toSeed := make(map[string]struct{})

	switch req.Type {
	case SubscribeAddresses:
		for _, addr := range req.Addresses {
			info, err := ss.resolveAddresses([]string{addr})
			if err != nil {
				ss.manager.remove(added)
				return nil, nil, err
			}
			added = append(added, ss.manager.add(addr, info)...)
		}
		for _, scriptHash := range added {
			toSeed[scriptHash] = struct{}{}
		}
	case SubscribeAccounts:
		for _, account := range req.Accounts {
			if account.Descriptor == "" {
				ss.manager.remove(added)
				return nil, nil, domain.ErrMissingDescriptor
			}

			if len(account.Addresses) > 0 {
				info, err := ss.resolveAddresses(account.Addresses)
				if err != nil {
					ss.manager.remove(added)
					return nil, nil, err
				}
				newScriptHashes := ss.manager.add(account.Descriptor, info)
				for _, scriptHash := range newScriptHashes {
					toSeed[scriptHash] = struct{}{}
				}
				added = append(added, newScriptHashes...)
				continue
			}

			receive, change, err := ss.discovery.DiscoverAccount(
				ctx, account.Descriptor,
			)
			if err != nil {
				ss.manager.remove(added)
				return nil, nil, err
			}
			all := append(receive, change...)
			added = append(added, ss.manager.add(account.Descriptor, all)...)
		}
	default:
		return nil, nil, ErrInvalidSubscriptionType
	}

	return added, toSeed, nil
}

func (ss *SubscriptionService) resolveAddresses(
	addresses []string,
) (domain.AddressesInfo, error) {
	info := make(domain.AddressesInfo, 0, len(addresses))
	for _, addr := range addresses {
		script, err := ss.addrSvc.OutputScript(addr)
		if err != nil {
			return nil, err
		}
		info = append(info, domain.AddressInfo{
			Address:    addr,
			ScriptHash: domain.ScriptHash(script),
		})
	}
	return info, nil
}

// removeStatusListenerIfIdle removes the scripthash listener if nothing is
// watched anymore and returns whether it did it.
func (ss *SubscriptionService) removeStatusListenerIfIdle() bool {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	if ss.statusSub == nil || ss.manager.count() > 0 {
		return false
	}
	ss.client.Off(*ss.statusSub)
	ss.statusSub = nil
	ss.log("removed listener for scripthash notifications")
	return true
}

func (ss *SubscriptionService) onScripthashStatus(status domain.ScripthashStatus) {
	w, ok := ss.manager.get(status.ScriptHash)
	if !ok {
		ss.warn(
			fmt.Errorf("no watch for scripthash %s", status.ScriptHash),
			"received notification for unknown scripthash",
		)
		return
	}

	notification := domain.Notification{
		Type:       domain.NotificationAddress,
		Descriptor: w.descriptor,
		Address:    w.address,
	}

	ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
	defer cancel()

	txs, err := ss.changedTransactions(ctx, status)
	if err != nil {
		ss.warn(err, "failed to reconcile history of address %s", w.address)
	}
	if len(txs) <= 0 {
		ss.emit(notification)
		return
	}

	ss.log(
		"%d txs changed for address %s (%s)", len(txs), w.address, w.path,
	)
	for _, tx := range txs {
		n := notification
		n.Tx = tx
		ss.emit(n)
	}
}

func (ss *SubscriptionService) changedTransactions(
	ctx context.Context, status domain.ScripthashStatus,
) ([]*domain.Transaction, error) {
	history := make([]domain.HistoryEntry, 0)
	if status.Status != "" {
		var err error
		history, err = ss.client.GetHistory(ctx, status.ScriptHash)
		if err != nil {
			return nil, err
		}
	}

	changed := ss.manager.update(status.ScriptHash, history)
	if len(changed) <= 0 {
		return nil, nil
	}
	return ss.txSvc.GetTransactions(ctx, changed)
}

func (ss *SubscriptionService) onClose(reason error) {
	ss.lock.Lock()
	watching := ss.statusSub != nil || ss.headersSub != nil
	ss.lock.Unlock()
	if !watching && ss.manager.count() <= 0 {
		return
	}

	ss.warn(reason, "connection closed, dropping all subscriptions")
	ss.Reset()
}

func (ss *SubscriptionService) onHeaders(header domain.BlockHeader) {
	ss.emit(domain.Notification{
		Type:  domain.NotificationBlock,
		Block: &header,
	})
}

func (ss *SubscriptionService) emit(notification domain.Notification) {
	select {
	case ss.chNotifications <- notification:
	case <-ss.chQuit:
	}
}
