package electrum_test

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/infrastructure/electrum"
	"github.com/vulpemventures/electrum-link/internal/infrastructure/electrum/electrumtest"
)

var ctx = context.Background()

func newTestClient(
	t *testing.T, server *electrumtest.Server, opts electrum.ClientOptions,
) *electrum.Client {
	if opts.URL == "" {
		opts.URL = server.URL()
	}
	client, err := electrum.NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)
	return client
}

func TestConnect(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{})

	info, ok := client.GetInfo()
	require.False(t, ok)
	require.Nil(t, info)

	version, err := client.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Version{"ElectrumX", "1.4"}, version)
	require.True(t, client.IsConnected())
	require.Equal(t, electrum.StatusConnected, client.Status())
	require.Equal(t, "hello", client.Banner())

	info, ok = client.GetInfo()
	require.True(t, ok)
	require.Equal(t, server.URL(), info.URL)
	require.Equal(t, domain.Version{"ElectrumX", "1.4"}, info.Version)
	require.Equal(t, int64(100), info.Block.Height)
	require.Equal(t, electrumtest.GenesisHeader, info.Block.Hex)

	methods := make([]string, 0)
	for _, req := range server.Received("") {
		methods = append(methods, req.Method)
	}
	require.Equal(t, []string{
		"server.banner", "server.version", "blockchain.headers.subscribe",
	}, methods)

	versionReq := server.Received("server.version")[0]
	require.JSONEq(t, `["electrum-link","1.4"]`, string(versionReq.Params))

	_, err = client.Connect(ctx)
	require.ErrorIs(t, err, domain.ErrAlreadyConnected)
}

func TestConnectProtocolRange(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{
		ClientName:      "test",
		ProtocolVersion: []string{"1.2", "1.4"},
	})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	versionReq := server.Received("server.version")[0]
	require.JSONEq(t, `["test",["1.2","1.4"]]`, string(versionReq.Params))
}

func TestConnectFailure(t *testing.T) {
	t.Run("handshake", func(t *testing.T) {
		server := electrumtest.NewServer(t)
		server.Handle("server.version", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
			return nil, &electrumtest.RPCError{Code: 1, Message: "unsupported protocol version"}
		})
		client := newTestClient(t, server, electrum.ClientOptions{})

		version, err := client.Connect(ctx)
		require.ErrorIs(t, err, domain.ErrConnectFailed)
		require.Nil(t, version)

		var remoteErr *domain.RemoteError
		require.ErrorAs(t, err, &remoteErr)
		require.Equal(t, "unsupported protocol version", remoteErr.Message)
		require.Equal(t, "ConnectFailed", domain.ErrorKind(err))

		require.False(t, client.IsConnected())
		require.Equal(t, electrum.StatusDisconnected, client.Status())

		_, err = client.Request(ctx, "server.ping")
		require.ErrorIs(t, err, domain.ErrNotConnected)
	})

	t.Run("transport", func(t *testing.T) {
		server := electrumtest.NewServer(t)
		url := server.URL()
		server.Close()

		client := newTestClient(t, server, electrum.ClientOptions{URL: url})
		_, err := client.Connect(ctx)
		require.ErrorIs(t, err, domain.ErrConnectFailed)
		require.Equal(t, electrum.StatusDisconnected, client.Status())
	})

	t.Run("config", func(t *testing.T) {
		for _, url := range []string{"", "127.0.0.1:50001", "udp://host:1", "tcp://host:0"} {
			client, err := electrum.NewClient(electrum.ClientOptions{URL: url})
			require.ErrorIs(t, err, domain.ErrConfig, url)
			require.Nil(t, client)
		}
	})
}

func TestRequestNotConnected(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{})

	res, err := client.Request(ctx, "server.ping")
	require.ErrorIs(t, err, domain.ErrNotConnected)
	require.Nil(t, res)
	require.Empty(t, server.Received(""))
}

func TestRequest(t *testing.T) {
	server := electrumtest.NewServer(t)
	server.Handle("test.echo", func(params json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return params, nil
	})
	server.Handle("test.fail", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return nil, &electrumtest.RPCError{Code: -32600, Message: "bad request"}
	})
	client := newTestClient(t, server, electrum.ClientOptions{})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	t.Run("null result", func(t *testing.T) {
		res, err := client.Request(ctx, "server.ping")
		require.NoError(t, err)
		require.Equal(t, "null", string(res))
		require.NoError(t, client.Ping(ctx))
	})

	t.Run("params", func(t *testing.T) {
		res, err := client.Request(ctx, "test.echo", "a", 1, true)
		require.NoError(t, err)
		require.JSONEq(t, `["a",1,true]`, string(res))

		res, err = client.Request(ctx, "test.echo")
		require.NoError(t, err)
		require.JSONEq(t, `[]`, string(res))
	})

	t.Run("remote error", func(t *testing.T) {
		res, err := client.Request(ctx, "test.fail")
		require.Error(t, err)
		require.Nil(t, res)

		var remoteErr *domain.RemoteError
		require.ErrorAs(t, err, &remoteErr)
		require.Equal(t, -32600, remoteErr.Code)
		require.Equal(t, "bad request", remoteErr.Message)
		require.EqualError(t, err, "bad request")
		require.True(t, client.IsConnected())
	})

	t.Run("ids", func(t *testing.T) {
		reqs := server.Received("")
		require.NotEmpty(t, reqs)
		require.Equal(t, uint64(1), reqs[0].ID)
		for i := 1; i < len(reqs); i++ {
			require.Greater(t, reqs[i].ID, reqs[i-1].ID)
		}
	})
}

func TestConcurrentRequests(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	count := 100
	chErrs := make(chan error, count)
	wg := &sync.WaitGroup{}
	wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer wg.Done()
			_, err := client.Request(ctx, "server.ping")
			chErrs <- err
		}()
	}
	wg.Wait()
	close(chErrs)

	settled := 0
	for err := range chErrs {
		require.NoError(t, err)
		settled++
	}
	require.Equal(t, count, settled)
}

func TestClose(t *testing.T) {
	server := electrumtest.NewServer(t)
	server.Handle("test.hang", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return electrumtest.NoReply, nil
	})
	client := newTestClient(t, server, electrum.ClientOptions{})

	// No-op when disconnected.
	client.Close()

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	chNotifications := make(chan domain.ScripthashStatus, 1)
	client.OnScripthashStatus(func(s domain.ScripthashStatus) {
		chNotifications <- s
	})

	count := 10
	chErrs := make(chan error, count)
	for i := 0; i < count; i++ {
		go func() {
			_, err := client.Request(ctx, "test.hang")
			chErrs <- err
		}()
	}
	require.Eventually(t, func() bool {
		return len(server.Received("test.hang")) == count
	}, 5*time.Second, 10*time.Millisecond)

	client.Close()
	for i := 0; i < count; i++ {
		select {
		case err := <-chErrs:
			require.ErrorIs(t, err, domain.ErrConnectionClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("pending request not rejected")
		}
	}
	require.False(t, client.IsConnected())
	client.Close()

	// Listeners don't survive the connection.
	_, err = client.Connect(ctx)
	require.NoError(t, err)
	server.Push("blockchain.scripthash.subscribe", "sh", "status")
	select {
	case <-chNotifications:
		t.Fatal("listener still registered after close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOnClose(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{})

	chReasons := make(chan error, 10)
	sub := client.OnClose(func(reason error) {
		chReasons <- reason
	})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	server.DropConnections()
	require.ErrorIs(t, receive(t, chReasons), domain.ErrConnectionClosed)
	require.Eventually(t, func() bool {
		return !client.IsConnected()
	}, 5*time.Second, 10*time.Millisecond)

	// The listener survives the connection, and listeners registered on the
	// new one get the notifications pushed by the server.
	_, err = client.Connect(ctx)
	require.NoError(t, err)
	chStatus := make(chan domain.ScripthashStatus, 1)
	client.OnScripthashStatus(func(s domain.ScripthashStatus) {
		chStatus <- s
	})
	server.Push("blockchain.scripthash.subscribe", "sh", "status")
	require.Equal(t, "sh", receive(t, chStatus).ScriptHash)

	client.Close()
	require.ErrorIs(t, receive(t, chReasons), domain.ErrConnectionClosed)

	client.Off(sub)
	_, err = client.Connect(ctx)
	require.NoError(t, err)
	client.Close()
	select {
	case <-chReasons:
		t.Fatal("listener still registered after off")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestShutdown(t *testing.T) {
	server := electrumtest.NewServer(t)
	server.Handle("test.hang", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return electrumtest.NoReply, nil
	})

	client := newTestClient(t, server, electrum.ClientOptions{})
	_, err := client.Connect(ctx)
	require.NoError(t, err)

	chErr := make(chan error, 1)
	go func() {
		_, err := client.Request(ctx, "test.hang")
		chErr <- err
	}()
	require.Eventually(t, func() bool {
		return len(server.Received("test.hang")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	client.Shutdown()
	require.ErrorIs(t, receive(t, chErr), domain.ErrConnectionClosed)
	require.False(t, client.IsConnected())

	_, err = client.Connect(ctx)
	require.ErrorIs(t, err, electrum.ErrClientStopped)
	_, err = client.Request(ctx, "server.ping")
	require.ErrorIs(t, err, electrum.ErrClientStopped)
	require.ErrorIs(t, err, domain.ErrNotConnected)
	client.Close()
	client.Shutdown()

	t.Run("stops goroutines", func(t *testing.T) {
		before := runtime.NumGoroutine()
		clients := make([]*electrum.Client, 0, 10)
		for i := 0; i < 10; i++ {
			c, err := electrum.NewClient(electrum.ClientOptions{URL: server.URL()})
			require.NoError(t, err)
			clients = append(clients, c)
		}
		require.Greater(t, runtime.NumGoroutine(), before)

		for _, c := range clients {
			c.Shutdown()
		}
		require.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before
		}, 5*time.Second, 10*time.Millisecond)
	})
}

func TestUnexpectedMessages(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	server.Send(`{"jsonrpc":"2.0","id":9999,"result":"unexpected"}`)
	server.Send(`{"jsonrpc":"2.0","id":0,"result":"zero"}`)
	server.Send(`[{"jsonrpc":"2.0","id":1,"result":null}]`)
	server.Send(`{not json`)
	server.Send(`{"jsonrpc":"2.0"}`)
	server.Push("unknown.method", 1)

	res, err := client.Request(ctx, "server.ping")
	require.NoError(t, err)
	require.Equal(t, "null", string(res))
	require.True(t, client.IsConnected())
}

func TestNotifications(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	chStatus := make(chan domain.ScripthashStatus, 10)
	chHeaders := make(chan domain.BlockHeader, 10)
	statusSub := client.OnScripthashStatus(func(s domain.ScripthashStatus) {
		chStatus <- s
	})
	client.OnHeaders(func(h domain.BlockHeader) {
		chHeaders <- h
	})

	for i := 0; i < 5; i++ {
		server.Push("blockchain.scripthash.subscribe", "sh", fmt.Sprintf("status%d", i))
	}
	server.Push("blockchain.scripthash.subscribe", "sh2", nil)

	for i := 0; i < 5; i++ {
		s := receive(t, chStatus)
		require.Equal(t, "sh", s.ScriptHash)
		require.Equal(t, fmt.Sprintf("status%d", i), s.Status)
	}
	s := receive(t, chStatus)
	require.Equal(t, domain.ScripthashStatus{ScriptHash: "sh2"}, s)

	server.Push(
		"blockchain.headers.subscribe",
		map[string]interface{}{"height": 101, "hex": electrumtest.GenesisHeader},
	)
	h := receive(t, chHeaders)
	require.Equal(t, int64(101), h.Height)

	info, ok := client.GetInfo()
	require.True(t, ok)
	require.Equal(t, int64(101), info.Block.Height)

	client.Off(statusSub)
	server.Push("blockchain.scripthash.subscribe", "sh", "status")
	select {
	case <-chStatus:
		t.Fatal("listener still registered after off")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestListenerCanRequest(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	chErr := make(chan error, 1)
	client.OnHeaders(func(domain.BlockHeader) {
		_, err := client.Request(ctx, "server.ping")
		chErr <- err
	})
	server.Push(
		"blockchain.headers.subscribe",
		map[string]interface{}{"height": 101, "hex": electrumtest.GenesisHeader},
	)
	require.NoError(t, receive(t, chErr))
}

func TestTypedRequests(t *testing.T) {
	server := electrumtest.NewServer(t)
	server.Handle("blockchain.scripthash.get_balance", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return map[string]int64{"confirmed": 1000, "unconfirmed": -200}, nil
	})
	server.Handle("blockchain.scripthash.get_history", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return []map[string]interface{}{
			{"tx_hash": "aa", "height": 10},
			{"tx_hash": "bb", "height": 0, "fee": 200},
		}, nil
	})
	server.Handle("blockchain.scripthash.listunspent", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return nil, nil
	})
	server.Handle("blockchain.scripthash.subscribe", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return nil, nil
	})
	server.Handle("blockchain.scripthash.unsubscribe", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return true, nil
	})
	server.Handle("blockchain.estimatefee", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return json.RawMessage("0.00001234"), nil
	})
	server.Handle("blockchain.block.header", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return electrumtest.GenesisHeader, nil
	})
	server.Handle("blockchain.transaction.get", func(params json.RawMessage) (interface{}, *electrumtest.RPCError) {
		var p []interface{}
		json.Unmarshal(params, &p)
		if len(p) > 1 {
			return map[string]interface{}{
				"txid":          "aa",
				"confirmations": 3,
				"vin":           []interface{}{map[string]interface{}{"coinbase": "03"}},
				"vout": []interface{}{map[string]interface{}{
					"value": json.RawMessage("0.1"), "n": 0,
					"scriptPubKey": map[string]interface{}{"address": "addr"},
				}},
			}, nil
		}
		return "0200", nil
	})
	client := newTestClient(t, server, electrum.ClientOptions{})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	balance, err := client.GetBalance(ctx, "sh")
	require.NoError(t, err)
	require.Equal(t, &domain.Balance{Confirmed: 1000, Unconfirmed: -200}, balance)

	history, err := client.GetHistory(ctx, "sh")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].IsConfirmed())
	require.False(t, history[1].IsConfirmed())

	utxos, err := client.ListUnspent(ctx, "sh")
	require.NoError(t, err)
	require.NotNil(t, utxos)
	require.Empty(t, utxos)

	status, err := client.SubscribeScripthash(ctx, "sh")
	require.NoError(t, err)
	require.Empty(t, status)

	ok, err := client.UnsubscribeScripthash(ctx, "sh")
	require.NoError(t, err)
	require.True(t, ok)

	fee, err := client.EstimateFee(ctx, 2)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("0.00001234").Equal(fee))

	header, err := client.GetBlockHeader(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, electrumtest.GenesisHeader, header)

	tx, err := client.GetTransaction(ctx, "aa")
	require.NoError(t, err)
	require.Equal(t, "aa", tx.TxID)
	require.True(t, tx.IsConfirmed())
	require.True(t, tx.Vin[0].IsCoinbase())
	require.Equal(t, "0.1", tx.Vout[0].Value.String())

	txHex, err := client.GetRawTransaction(ctx, "aa")
	require.NoError(t, err)
	require.Equal(t, "0200", txHex)

	req := server.Received("blockchain.transaction.get")[0]
	require.JSONEq(t, `["aa",true]`, string(req.Params))
}

func TestKeepAlive(t *testing.T) {
	server := electrumtest.NewServer(t)
	client := newTestClient(t, server, electrum.ClientOptions{
		KeepAliveInterval: 50 * time.Millisecond,
	})

	_, err := client.Connect(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(server.Received("server.ping")) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, client.IsConnected())

	// A ping left unanswered drops the connection.
	server.Handle("server.ping", func(json.RawMessage) (interface{}, *electrumtest.RPCError) {
		return electrumtest.NoReply, nil
	})
	require.Eventually(t, func() bool {
		return !client.IsConnected()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReconnect(t *testing.T) {
	t.Run("reconnects after drop", func(t *testing.T) {
		server := electrumtest.NewServer(t)
		client := newTestClient(t, server, electrum.ClientOptions{
			Persistence: electrum.PersistencePolicy{
				MaxRetry: 3,
				Backoff:  10 * time.Millisecond,
			},
		})

		_, err := client.Connect(ctx)
		require.NoError(t, err)

		server.DropConnections()

		require.Eventually(t, func() bool {
			return len(server.Received("server.banner")) == 2 && client.IsConnected()
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("gives up", func(t *testing.T) {
		server := electrumtest.NewServer(t)
		chGiveUp := make(chan error, 1)
		client := newTestClient(t, server, electrum.ClientOptions{
			Persistence: electrum.PersistencePolicy{
				MaxRetry: 2,
				Backoff:  10 * time.Millisecond,
				OnGiveUp: func(err error) { chGiveUp <- err },
			},
		})

		_, err := client.Connect(ctx)
		require.NoError(t, err)

		server.Close()

		err = receive(t, chGiveUp)
		require.ErrorIs(t, err, domain.ErrConnectFailed)
		require.False(t, client.IsConnected())
	})

	t.Run("no reconnect after close", func(t *testing.T) {
		server := electrumtest.NewServer(t)
		client := newTestClient(t, server, electrum.ClientOptions{
			Persistence: electrum.PersistencePolicy{
				MaxRetry: 3,
				Backoff:  10 * time.Millisecond,
			},
		})

		_, err := client.Connect(ctx)
		require.NoError(t, err)

		client.Close()
		time.Sleep(100 * time.Millisecond)

		require.Len(t, server.Received("server.banner"), 1)
		require.False(t, client.IsConnected())
	})
}

func TestMetrics(t *testing.T) {
	server := electrumtest.NewServer(t)
	reg := prometheus.NewRegistry()
	client := newTestClient(t, server, electrum.ClientOptions{
		Metrics: electrum.NewMetrics(reg),
	})

	_, err := client.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx))

	server.Send(`{"jsonrpc":"2.0","id":9999,"result":null}`)
	require.NoError(t, client.Ping(ctx))

	// One series per method: banner, version, headers and ping.
	require.Equal(t, 4, countSeries(t, reg, "electrum_requests_total"))
	require.Equal(t, 1, countSeries(t, reg, "electrum_dropped_messages_total"))
	require.Equal(t, 1, countSeries(t, reg, "electrum_connected"))

	client.Close()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "electrum_connected" {
			require.Zero(t, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func countSeries(t *testing.T, reg *prometheus.Registry, name string) int {
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return 0
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}
