package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/vulpemventures/electrum-link/internal/core/application"
)

var (
	txCmd = &cobra.Command{
		Use:   "tx <txid>",
		Short: "get transaction",
		Long: "this command returns the given transaction with the value and " +
			"addresses of its inputs and whether its outputs are spent",
		Args: cobra.ExactArgs(1),
		RunE: getTransaction,
	}
	blockHashCmd = &cobra.Command{
		Use:   "block-hash <height>",
		Short: "get block hash",
		Long:  "this command returns the hash of the block at the given height",
		Args:  cobra.ExactArgs(1),
		RunE:  getBlockHash,
	}
	feeCmd = &cobra.Command{
		Use:   "fee [blocks...]",
		Short: "estimate fee rate",
		Long: "this command returns the estimated fee rate in sat/kB for a " +
			"transaction to be confirmed within each of the given number of " +
			"blocks (defaults to 1)",
		RunE: estimateFee,
	}
)

func getTransaction(_ *cobra.Command, args []string) error {
	return request(application.MessageGetTransaction, map[string]string{
		"txid": args[0],
	})
}

func getBlockHash(_ *cobra.Command, args []string) error {
	height, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid block height %s", args[0])
	}
	return request(application.MessageGetBlockHash, map[string]uint32{
		"height": uint32(height),
	})
}

func estimateFee(_ *cobra.Command, args []string) error {
	blocks := make([]uint32, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseUint(arg, 10, 32)
		if err != nil || n == 0 {
			return fmt.Errorf("invalid number of blocks %s", arg)
		}
		blocks = append(blocks, uint32(n))
	}
	return request(application.MessageEstimateFee, map[string][]uint32{
		"blocks": blocks,
	})
}
