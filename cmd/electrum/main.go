package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vulpemventures/electrum-link/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Flags overriding the ELECTRUM_* env vars.
	serverUrl   string
	network     string
	addressType string
	cacheType   string
	datadir     string
	logLevel    int
	gapLimit    int
	maxRetry    int
	debug       bool

	flagKeys = map[string]string{
		"server":       config.ServerUrlKey,
		"network":      config.NetworkKey,
		"address-type": config.AddressTypeKey,
		"cache":        config.CacheTypeKey,
		"datadir":      config.DatadirKey,
		"log-level":    config.LogLevelKey,
		"gap-limit":    config.GapLimitKey,
		"max-retry":    config.MaxRetryKey,
		"debug":        config.DebugKey,
	}

	rootCmd = &cobra.Command{
		Use:   "electrum",
		Short: "CLI for Electrum servers",
		Long: "This CLI lets you query an Electrum server about addresses, " +
			"accounts and transactions, and watch them for changes",
		PersistentPreRunE: loadConfig,
		SilenceUsage:      true,
		Version:           formatVersion(),
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(
		&serverUrl, "server", "s", config.GetString(config.ServerUrlKey),
		"electrum server endpoint, scheme://host:port with scheme one of "+
			"tcp, tls, ssl, tor, ws, wss",
	)
	flags.StringVarP(
		&network, "network", "n", config.GetString(config.NetworkKey),
		fmt.Sprintf("network of the addresses, one of %s", config.SupportedNetworks),
	)
	flags.StringVar(
		&addressType, "address-type", config.GetString(config.AddressTypeKey),
		fmt.Sprintf(
			"type of addresses derived from xpub/tpub, one of %s",
			config.SupportedAddressTypes,
		),
	)
	flags.StringVar(
		&cacheType, "cache", config.GetString(config.CacheTypeKey),
		fmt.Sprintf("transaction cache, one of %s", config.SupportedCaches),
	)
	flags.StringVar(
		&datadir, "datadir", config.GetString(config.DatadirKey),
		"directory for the transaction cache and profiler stats",
	)
	flags.IntVar(
		&logLevel, "log-level", config.GetInt(config.LogLevelKey),
		"log level, from 0 (panic) to 6 (trace)",
	)
	flags.IntVar(
		&gapLimit, "gap-limit", config.GetInt(config.GapLimitKey),
		"number of consecutive unused addresses after which discovery stops",
	)
	flags.IntVar(
		&maxRetry, "max-retry", config.GetInt(config.MaxRetryKey),
		"number of reconnection attempts, 0 disables reconnection",
	)
	flags.BoolVar(
		&debug, "debug", config.GetBool(config.DebugKey),
		"trace every message exchanged with the server",
	)

	rootCmd.AddCommand(
		infoCmd, accountCmd, utxoCmd, balanceHistoryCmd,
		txCmd, blockHashCmd, feeCmd, watchCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig overrides the env config with the flags explicitly set.
func loadConfig(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	for flag, key := range flagKeys {
		if !flags.Changed(flag) {
			continue
		}
		config.Set(key, flags.Lookup(flag).Value.String())
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}
	if err := config.InitDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))
	return nil
}
