package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"airdrop-claim/internal/claim"
	"airdrop-claim/internal/felt"
	"airdrop-claim/internal/token"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the claimed amount, the allocation and whether a claim can be made",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(v, false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			defer a.flushMessages(cmd.ErrOrStderr())

			if err := a.connect(ctx, v); err != nil {
				return err
			}

			var (
				wg                       sync.WaitGroup
				claimedErr, allocatedErr error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, claimedErr = a.controller.RefreshClaimed(ctx)
			}()
			go func() {
				defer wg.Done()
				_, allocatedErr = a.controller.RefreshAllocation(ctx)
			}()
			wg.Wait()
			prepareErr := a.controller.Prepare(ctx)

			printStatus(out, a.controller.Snapshot(), a.cfg.Decimals)
			return errors.Join(claimedErr, allocatedErr, prepareErr)
		},
	}
}

func printStatus(w io.Writer, s claim.Session, decimals int32) {
	fmt.Fprintf(w, "Connected: %s\n", felt.Shorten(s.Address))
	switch {
	case s.Claimed.Data != nil:
		fmt.Fprintf(w, "Already claimed: %s (raw %s)\n", token.FormatAmount(s.Claimed.Data, decimals), s.Claimed.Data)
	case s.Claimed.IsError:
		fmt.Fprintln(w, "Already claimed: unavailable")
	}
	if s.Allocation != nil {
		fmt.Fprintf(w, "Total allocated amount: %s (raw %s)\n", token.FormatAmount(s.Allocation, decimals), s.Allocation)
	} else {
		fmt.Fprintln(w, "Total allocated amount: unavailable")
	}
	fmt.Fprintf(w, "Claim ready: %t\n", s.Ready)
}

func newCalldataCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "calldata",
		Short: "fetch the claim calldata (amount and proof) for the address",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(v, true)
			if err != nil {
				return err
			}
			defer a.flushMessages(cmd.ErrOrStderr())

			if err := a.connect(ctx, v); err != nil {
				return err
			}
			calldata := a.controller.Snapshot().Calldata
			if calldata == nil {
				return claim.ErrClaimNotReady
			}
			return writeJSON(cmd.OutOrStdout(), calldata)
		},
	}
}

func newClaimCmd(v *viper.Viper) *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "prepare the claim and submit it through the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(v, true)
			if err != nil {
				return err
			}
			if !a.hasWallet {
				return fmt.Errorf("%w: --%s is required to claim", claim.ErrWalletNotConnected, "wallet-url")
			}
			out := cmd.OutOrStdout()
			defer a.flushMessages(cmd.ErrOrStderr())

			if err := a.controller.Connect(ctx); err != nil {
				return err
			}
			_, _ = a.controller.RefreshClaimed(ctx)
			_, _ = a.controller.RefreshAllocation(ctx)
			a.controller.Reconcile()

			s := a.controller.Snapshot()
			if s.Calldata == nil {
				return claim.ErrClaimNotReady
			}
			if !submit {
				call, err := a.writer.Populate(*s.Calldata)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "Dry run, pass --yes to submit:")
				return writeJSON(out, call)
			}

			txHash, err := a.controller.Submit(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Claim submitted: %s\n", txHash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&submit, "yes", false, "submit the claim instead of printing it")
	return cmd
}

func newRootHashCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "root",
		Short: "print the Merkle root of the allocation round",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, false)
			if err != nil {
				return err
			}
			root, err := a.backend.FetchRoot(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), root)
			return nil
		},
	}
}

func writeJSON(w io.Writer, value interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
