package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"carbon-scribe/vericarbon-engine/internal/market"
)

func newQuoteCmd() *cobra.Command {
	var (
		amountIn   int64
		reserveIn  int64
		reserveOut int64
		feeBps     uint32
		feeRate    string
	)

	cmd := &cobra.Command{
		Use:     "quote",
		Short:   "Price a swap against the given reserves without touching a pool",
		Example: `  vericarbon quote --in 100 --reserve-in 2000 --reserve-out 1000 --fee-bps 30`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if feeRate != "" {
				bps, err := market.FeeBpsFromRate(feeRate)
				if err != nil {
					return err
				}
				feeBps = bps
			}

			out, err := market.GetAmountOut(amountIn, reserveIn, reserveOut, feeBps)
			if err != nil {
				return err
			}

			product := market.Product(reserveIn+amountIn, reserveOut-out)
			fmt.Fprintf(cmd.OutOrStdout(), "amount_out: %d\nreserves_after: %d / %d\nproduct_after: %s\n",
				out, reserveIn+amountIn, reserveOut-out, product.String())
			return nil
		},
	}

	cmd.Flags().Int64Var(&amountIn, "in", 0, "amount paid into the pool")
	cmd.Flags().Int64Var(&reserveIn, "reserve-in", 0, "reserve of the asset paid in")
	cmd.Flags().Int64Var(&reserveOut, "reserve-out", 0, "reserve of the asset paid out")
	cmd.Flags().Uint32Var(&feeBps, "fee-bps", 30, "swap fee in basis points")
	cmd.Flags().StringVar(&feeRate, "fee-rate", "", "swap fee as a decimal rate, overrides --fee-bps")

	return cmd
}
