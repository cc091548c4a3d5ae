package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vulpemventures/electrum-link/internal/config"
	"github.com/vulpemventures/electrum-link/internal/core/application"
	"github.com/vulpemventures/electrum-link/pkg/profiler"
)

var (
	watchAddresses []string
	watchAccounts  []string
	watchBlocks    bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "watch addresses, accounts and blocks",
		Long: "this command subscribes to the given addresses, accounts and new " +
			"blocks and prints every notification until interrupted",
		Args: cobra.NoArgs,
		RunE: watch,
	}
)

func init() {
	watchCmd.Flags().StringSliceVarP(
		&watchAddresses, "address", "a", nil, "address to watch",
	)
	watchCmd.Flags().StringSliceVar(
		&watchAccounts, "account", nil,
		"descriptor of the account to watch, its addresses are discovered",
	)
	watchCmd.Flags().BoolVarP(
		&watchBlocks, "blocks", "b", false, "watch new blocks",
	)
}

func watch(_ *cobra.Command, _ []string) error {
	if len(watchAddresses) <= 0 && len(watchAccounts) <= 0 && !watchBlocks {
		return fmt.Errorf("nothing to watch")
	}

	if !config.GetBool(config.NoMetricsKey) {
		profilerSvc, err := profiler.NewService(profiler.ServiceOpts{
			Port:          config.GetInt(config.MetricsPortKey),
			StatsInterval: config.GetDuration(config.StatsIntervalKey),
			Datadir: filepath.Join(
				config.GetDatadir(), config.ProfilerLocation,
			),
		})
		if err != nil {
			return fmt.Errorf("profiler: %s", err)
		}
		if err := profilerSvc.Start(); err != nil {
			return fmt.Errorf("profiler: %s", err)
		}
		defer profilerSvc.Stop()
	}

	appCfg, err := getAppConfig()
	if err != nil {
		return err
	}
	defer appCfg.Close()

	worker := appCfg.WorkerService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests := make([]application.SubscribeRequest, 0, 3)
	if len(watchAddresses) > 0 {
		requests = append(requests, application.SubscribeRequest{
			Type:      application.SubscribeAddresses,
			Addresses: watchAddresses,
		})
	}
	if len(watchAccounts) > 0 {
		accounts := make([]application.Account, 0, len(watchAccounts))
		for _, descriptor := range watchAccounts {
			accounts = append(accounts, application.Account{Descriptor: descriptor})
		}
		requests = append(requests, application.SubscribeRequest{
			Type:     application.SubscribeAccounts,
			Accounts: accounts,
		})
	}
	if watchBlocks {
		requests = append(requests, application.SubscribeRequest{
			Type: application.SubscribeBlocks,
		})
	}

	// The server forgets the subscriptions when the connection ends, they're
	// sent again once it's back.
	chClosed := make(chan struct{}, 1)
	client := appCfg.ElectrumClient()
	closeSub := client.OnClose(func(reason error) {
		select {
		case chClosed <- struct{}{}:
		default:
		}
	})
	defer client.Off(closeSub)

	if resp := subscribeAll(ctx, worker, requests); resp != nil {
		printErr(resp)
		return nil
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	retryDelay := config.GetDuration(config.RetryBackoffKey)
	if retryDelay < time.Second {
		retryDelay = time.Second
	}

	notifications := worker.Notifications()
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if err := printJSON(toNotification(n)); err != nil {
				log.WithError(err).Warn("failed to print notification")
			}
		case <-chClosed:
			log.Warn("connection to server closed, subscribing again")
			for {
				resp := subscribeAll(ctx, worker, requests)
				if resp == nil {
					break
				}
				log.Warnf("failed to subscribe again: %s", resp.Message)
				select {
				case <-time.After(retryDelay):
				case <-sigChan:
					return nil
				}
			}
		case <-sigChan:
			return nil
		}
	}
}

// subscribeAll sends the subscribe requests in order and returns the first
// error, if any.
func subscribeAll(
	ctx context.Context, worker *application.WorkerService,
	requests []application.SubscribeRequest,
) *application.ResponseError {
	for i, req := range requests {
		resp := worker.Handle(ctx, application.Message{
			ID:      int64(i + 1),
			Type:    application.MessageSubscribe,
			Payload: mustMarshal(req),
		})
		if resp.Error != nil {
			return resp.Error
		}
		log.Infof("subscribed to %s", req.Type)
	}
	return nil
}
