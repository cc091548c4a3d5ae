package main

import (
	"github.com/spf13/cobra"
	"github.com/vulpemventures/electrum-link/internal/core/application"
)

var (
	details  string
	page     int
	pageSize int
	from     int64
	to       int64
	groupBy  int64

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "get info about the server",
		Long: "this command connects to the server and returns its version and " +
			"the current chain tip",
		Args: cobra.NoArgs,
		RunE: info,
	}
	accountCmd = &cobra.Command{
		Use:   "account <descriptor|address>",
		Short: "get account balance and transactions",
		Long: "this command returns the balance of the given descriptor or " +
			"address, and optionally the list of its addresses or a page of its " +
			"transactions depending on --details",
		Args: cobra.ExactArgs(1),
		RunE: accountInfo,
	}
	utxoCmd = &cobra.Command{
		Use:   "utxo <descriptor|address>",
		Short: "list account utxos",
		Long: "this command returns the list of all utxos owned by the " +
			"addresses of the given descriptor or address",
		Args: cobra.ExactArgs(1),
		RunE: accountUtxo,
	}
	balanceHistoryCmd = &cobra.Command{
		Use:   "balance-history <descriptor|address>",
		Short: "get account balance history",
		Long: "this command returns the amounts received and sent by the given " +
			"descriptor or address, grouped by time interval",
		Args: cobra.ExactArgs(1),
		RunE: accountBalanceHistory,
	}
)

func init() {
	accountCmd.Flags().StringVarP(
		&details, "details", "d", "",
		"one of basic, tokens, tokenBalances, txids, txs",
	)
	accountCmd.Flags().IntVarP(&page, "page", "p", 1, "page of transactions")
	accountCmd.Flags().IntVar(
		&pageSize, "page-size", application.DefaultPageSize,
		"number of transactions per page",
	)

	balanceHistoryCmd.Flags().Int64Var(
		&from, "from", 0, "unix timestamp of the first interval",
	)
	balanceHistoryCmd.Flags().Int64Var(
		&to, "to", 0, "unix timestamp of the last interval",
	)
	balanceHistoryCmd.Flags().Int64Var(
		&groupBy, "group-by", application.DefaultBalanceGroupBy,
		"size of the intervals in seconds",
	)
}

func info(_ *cobra.Command, _ []string) error {
	return request(application.MessageGetInfo, nil)
}

func accountInfo(_ *cobra.Command, args []string) error {
	return request(application.MessageGetAccountInfo, application.AccountInfoRequest{
		Descriptor: args[0],
		Details:    details,
		Page:       page,
		PageSize:   pageSize,
	})
}

func accountUtxo(_ *cobra.Command, args []string) error {
	return request(application.MessageGetAccountUtxo, map[string]string{
		"descriptor": args[0],
	})
}

func accountBalanceHistory(_ *cobra.Command, args []string) error {
	return request(
		application.MessageGetAccountBalanceHistory,
		application.BalanceHistoryRequest{
			Descriptor: args[0],
			From:       from,
			To:         to,
			GroupBy:    groupBy,
		},
	)
}
