package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/electrum-link/internal/core/application"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
	"github.com/vulpemventures/electrum-link/internal/infrastructure/storage/db/inmemory"
)

var (
	statusSub  = ports.Subscription{Kind: ports.ScripthashStatusEvent, ID: 2}
	headersSub = ports.Subscription{Kind: ports.HeadersEvent, ID: 1}
)

func newSubscriptionService(
	client *mockElectrumClient,
) *application.SubscriptionService {
	addrSvc := fakeAddressService{}
	discovery := application.NewDiscovery(client, addrSvc, 0)
	txSvc := application.NewTransactionService(
		client, inmemory.NewTransactionRepository(),
	)
	svc := application.NewSubscriptionService(client, addrSvc, discovery, txSvc)
	return svc
}

func TestSubscribeAddresses(t *testing.T) {
	t.Parallel()

	client := newMockedElectrumClient()
	client.On("OnScripthashStatus").Return()
	client.On("Off", mock.Anything).Return()
	client.On("SubscribeScripthash", mock.Anything, scriptHashOf("carol")).
		Return("", nil)
	client.On("SubscribeScripthash", mock.Anything, scriptHashOf("alice")).
		Return("status", nil)
	client.On("UnsubscribeScripthash", mock.Anything, mock.Anything).
		Return(true, nil)
	mockHistory(client, "alice", 100)

	svc := newSubscriptionService(client)
	t.Cleanup(svc.Close)

	res, err := svc.Subscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"carol", "carol"},
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)

	res, err = svc.Subscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"carol"},
	})
	require.NoError(t, err)
	require.False(t, res.Subscribed)

	res, err = svc.Subscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"alice", "carol"},
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)

	// A single listener, a single subscription per scripthash, and the known
	// history is fetched only for scripthashes with a status.
	client.AssertNumberOfCalls(t, "OnScripthashStatus", 1)
	client.AssertNumberOfCalls(t, "SubscribeScripthash", 2)
	client.AssertNumberOfCalls(t, "GetHistory", 1)

	res, err = svc.Unsubscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"carol", "dave"},
	})
	require.NoError(t, err)
	require.False(t, res.Subscribed)
	client.AssertCalled(t, "UnsubscribeScripthash", mock.Anything, scriptHashOf("carol"))
	client.AssertNotCalled(t, "Off", mock.Anything)

	// Removing the last watch removes the listener instead.
	res, err = svc.Unsubscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"alice"},
	})
	require.NoError(t, err)
	require.False(t, res.Subscribed)
	client.AssertCalled(t, "Off", statusSub)
	client.AssertNumberOfCalls(t, "UnsubscribeScripthash", 1)

	res, err = svc.Unsubscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"alice"},
	})
	require.NoError(t, err)
	require.False(t, res.Subscribed)
	client.AssertNumberOfCalls(t, "Off", 1)
}

func TestSubscribeAccounts(t *testing.T) {
	t.Parallel()

	receive0 := derivedAddress(descriptor, domain.ChainReceive, 0)

	client := newMockedElectrumClient()
	client.On("OnScripthashStatus").Return()
	client.On("Off", mock.Anything).Return()
	client.On("SubscribeScripthash", mock.Anything, mock.Anything).Return("", nil)
	mockHistory(client, receive0, 100)
	client.mockEmptyHistories()

	svc := newSubscriptionService(client)
	t.Cleanup(svc.Close)

	res, err := svc.Subscribe(ctx, application.SubscribeRequest{
		Type: application.SubscribeAccounts,
		Accounts: []application.Account{
			{Descriptor: descriptor},
			{Descriptor: "xpub-other", Addresses: []string{"erin", "frank"}},
		},
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)
	// 20 receive addresses for the first account, no change address, and the
	// 2 explicit ones of the second.
	client.AssertNumberOfCalls(t, "SubscribeScripthash", 22)

	res, err = svc.Unsubscribe(ctx, application.SubscribeRequest{
		Type:     application.SubscribeAccounts,
		Accounts: []application.Account{{Descriptor: descriptor}, {Descriptor: "xpub-other"}},
	})
	require.NoError(t, err)
	require.False(t, res.Subscribed)
	client.AssertCalled(t, "Off", statusSub)
	client.AssertNotCalled(t, "UnsubscribeScripthash", mock.Anything, mock.Anything)

	res, err = svc.Subscribe(ctx, application.SubscribeRequest{
		Type:     application.SubscribeAccounts,
		Accounts: []application.Account{{}},
	})
	require.ErrorIs(t, err, domain.ErrMissingDescriptor)
	require.Nil(t, res)
}

func TestSubscribeFailure(t *testing.T) {
	t.Parallel()

	client := newMockedElectrumClient()
	client.On("OnScripthashStatus").Return()
	client.On("Off", mock.Anything).Return()
	client.On("SubscribeScripthash", mock.Anything, scriptHashOf("carol")).
		Return("", nil)
	client.On("SubscribeScripthash", mock.Anything, scriptHashOf("alice")).
		Return("", domain.ErrNotConnected)

	svc := newSubscriptionService(client)
	t.Cleanup(svc.Close)

	res, err := svc.Subscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"carol", "alice"},
	})
	require.ErrorIs(t, err, domain.ErrNotConnected)
	require.Nil(t, res)
	// Nothing is left watched.
	client.AssertCalled(t, "Off", statusSub)

	res, err = svc.Subscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"invalid"},
	})
	require.Error(t, err)
	require.Nil(t, res)

	res, err = svc.Subscribe(ctx, application.SubscribeRequest{Type: "unknown"})
	require.ErrorIs(t, err, application.ErrInvalidSubscriptionType)
	require.ErrorIs(t, err, domain.ErrConfig)
	require.Nil(t, res)

	res, err = svc.Unsubscribe(ctx, application.SubscribeRequest{Type: "unknown"})
	require.ErrorIs(t, err, application.ErrInvalidSubscriptionType)
	require.Nil(t, res)
}

func TestAddressNotifications(t *testing.T) {
	t.Parallel()

	client := newMockedElectrumClient()
	client.On("OnScripthashStatus").Return()
	client.On("Off", mock.Anything).Return()
	client.On("SubscribeScripthash", mock.Anything, mock.Anything).Return("", nil)
	client.On("GetHistory", mock.Anything, scriptHashOf("miner")).
		Return([]domain.HistoryEntry{{TxHash: "cb", Height: 0}}, nil).Once()
	client.On("GetHistory", mock.Anything, scriptHashOf("miner")).
		Return([]domain.HistoryEntry{{TxHash: "cb", Height: 0}}, nil).Once()
	client.On("GetHistory", mock.Anything, scriptHashOf("miner")).
		Return([]domain.HistoryEntry{{TxHash: "cb", Height: 111}}, nil).Once()
	mockTransactions(client, coinbaseTx)
	client.On("ListUnspent", mock.Anything, mock.Anything).
		Return([]domain.Unspent{}, nil)
	client.mockTip(110)

	svc := newSubscriptionService(client)
	t.Cleanup(svc.Close)

	res, err := svc.Subscribe(ctx, application.SubscribeRequest{
		Type: application.SubscribeAccounts,
		Accounts: []application.Account{
			{Descriptor: "xpub-miner", Addresses: []string{"miner"}},
		},
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)

	// New tx in mempool.
	client.pushStatus(scriptHashOf("miner"), "status1")
	notification := receiveNotification(t, svc)
	require.Equal(t, domain.NotificationAddress, notification.Type)
	require.Equal(t, "xpub-miner", notification.Descriptor)
	require.Equal(t, "miner", notification.Address)
	require.NotNil(t, notification.Tx)
	require.Equal(t, "cb", notification.Tx.TxID)

	// Nothing changed.
	client.pushStatus(scriptHashOf("miner"), "status1")
	notification = receiveNotification(t, svc)
	require.Equal(t, "xpub-miner", notification.Descriptor)
	require.Nil(t, notification.Tx)

	// The tx got confirmed.
	client.pushStatus(scriptHashOf("miner"), "status2")
	notification = receiveNotification(t, svc)
	require.NotNil(t, notification.Tx)
	require.Equal(t, "cb", notification.Tx.TxID)

	// Unknown scripthashes are ignored.
	client.pushStatus(scriptHashOf("unknown"), "status")
	select {
	case n := <-svc.Notifications():
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBlockNotifications(t *testing.T) {
	t.Parallel()

	client := newMockedElectrumClient()
	client.On("OnHeaders").Return()
	client.On("Off", mock.Anything).Return()

	svc := newSubscriptionService(client)
	t.Cleanup(svc.Close)

	res, err := svc.Subscribe(ctx, application.SubscribeRequest{
		Type: application.SubscribeBlocks,
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)

	res, err = svc.Subscribe(ctx, application.SubscribeRequest{
		Type: application.SubscribeBlocks,
	})
	require.NoError(t, err)
	require.False(t, res.Subscribed)
	client.AssertNumberOfCalls(t, "OnHeaders", 1)

	header := domain.BlockHeader{Height: 111, Hex: genesisHeader}
	client.pushHeaders(header)
	notification := receiveNotification(t, svc)
	require.Equal(t, domain.NotificationBlock, notification.Type)
	require.Equal(t, header, *notification.Block)

	res, err = svc.Unsubscribe(ctx, application.SubscribeRequest{
		Type: application.SubscribeBlocks,
	})
	require.NoError(t, err)
	require.False(t, res.Subscribed)
	client.AssertCalled(t, "Off", headersSub)
}

func TestResubscribeAfterConnectionClose(t *testing.T) {
	t.Parallel()

	client := newMockedElectrumClient()
	client.On("OnScripthashStatus").Return()
	client.On("OnHeaders").Return()
	client.On("Off", mock.Anything).Return()
	client.On("SubscribeScripthash", mock.Anything, mock.Anything).Return("", nil)

	svc := newSubscriptionService(client)
	t.Cleanup(svc.Close)

	res, err := svc.Subscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"alice"},
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)
	res, err = svc.Subscribe(ctx, application.SubscribeRequest{
		Type: application.SubscribeBlocks,
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)

	client.pushClose(domain.ErrConnectionClosed)
	client.AssertCalled(t, "Off", statusSub)
	client.AssertCalled(t, "Off", headersSub)

	// Everything is watched from scratch on the new connection.
	res, err = svc.Subscribe(ctx, application.SubscribeRequest{
		Type:      application.SubscribeAddresses,
		Addresses: []string{"alice", "bob"},
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)
	res, err = svc.Subscribe(ctx, application.SubscribeRequest{
		Type: application.SubscribeBlocks,
	})
	require.NoError(t, err)
	require.True(t, res.Subscribed)

	client.AssertNumberOfCalls(t, "OnScripthashStatus", 2)
	client.AssertNumberOfCalls(t, "OnHeaders", 2)
	client.AssertNumberOfCalls(t, "SubscribeScripthash", 3)

	client.pushStatus(scriptHashOf("bob"), "")
	notification := receiveNotification(t, svc)
	require.Equal(t, "bob", notification.Address)

	// Closing the service detaches it from the client.
	svc.Close()
	client.pushClose(domain.ErrConnectionClosed)
	client.AssertNumberOfCalls(t, "Off", 4)
}

func receiveNotification(
	t *testing.T, svc *application.SubscriptionService,
) domain.Notification {
	t.Helper()

	select {
	case n := <-svc.Notifications():
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification")
		return domain.Notification{}
	}
}
