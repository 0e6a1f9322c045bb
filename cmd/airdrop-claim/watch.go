package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"airdrop-claim/internal/chain"
	"airdrop-claim/internal/claim"
	"airdrop-claim/internal/token"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type watchOptions struct {
	interval time.Duration
	once     bool
	target   string
	alertURL string
}

func newWatchCmd(v *viper.Viper) *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "poll the claimed amount until it reaches the allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			ctx := cmd.Context()
			a, err := newApp(v, false)
			if err != nil {
				return err
			}
			defer a.flushMessages(cmd.ErrOrStderr())

			if err := a.connect(ctx, v); err != nil {
				return err
			}

			var target *big.Int
			if opts.target != "" {
				target, err = token.ParseAmount(opts.target, a.cfg.Decimals)
				if err != nil {
					return fmt.Errorf("invalid target: %w", err)
				}
			} else {
				target, err = a.controller.RefreshAllocation(ctx)
				if err != nil {
					return fmt.Errorf("fetch allocation: %w", err)
				}
			}

			zerolog.Ctx(ctx).Info().
				Str("address", a.controller.Snapshot().Address).
				Str("target", token.FormatAmount(target, a.cfg.Decimals)).
				Str("interval", opts.interval.String()).
				Msg("watching claimed amount")

			runLoop(ctx, a.controller, target, a.cfg.Decimals, opts)
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Minute, "polling interval (e.g. 30s, 1m)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single check and exit")
	cmd.Flags().StringVar(&opts.target, "target", "", "amount to wait for in whole tokens, defaults to the allocation")
	cmd.Flags().StringVar(&opts.alertURL, "alert-url", "", "optional alert webhook base URL (expects GET with message query param)")
	return cmd
}

// claimedRefresher is the part of the controller the loop polls.
type claimedRefresher interface {
	RefreshClaimed(ctx context.Context) (chain.Read, error)
}

func runLoop(ctx context.Context, c *claim.Controller, target *big.Int, decimals int32, opts watchOptions) {
	pollLoop(ctx, c, http.DefaultClient, target, decimals, opts)
}

func pollLoop(
	ctx context.Context,
	refresher claimedRefresher,
	client *http.Client,
	target *big.Int,
	decimals int32,
	opts watchOptions,
) {
	logger := zerolog.Ctx(ctx)
	for iteration := 0; ; iteration++ {
		if iteration > 0 {
			if opts.once {
				return
			}
			select {
			case <-ctx.Done():
				logger.Info().Err(ctx.Err()).Msg("stopping watcher")
				return
			case <-time.After(opts.interval):
			}
		}

		if err := ctx.Err(); err != nil {
			logger.Info().Err(err).Msg("stopping watcher")
			return
		}

		iterationCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		read, err := refresher.RefreshClaimed(iterationCtx)
		cancel()
		if err != nil || read.Data == nil {
			logger.Warn().Err(err).Msg("failed to read claimed amount")
		} else {
			logger.Info().
				Str("claimed", token.FormatAmount(read.Data, decimals)).
				Str("raw", read.Data.String()).
				Msg("claimed amount")
			if read.Data.Cmp(target) >= 0 {
				logger.Info().
					Str("claimed", token.FormatAmount(read.Data, decimals)).
					Str("target", token.FormatAmount(target, decimals)).
					Msg("claim reflected on chain")
				if opts.alertURL != "" {
					alertCtx, cancelAlert := context.WithTimeout(ctx, 5*time.Second)
					if err := sendAlert(alertCtx, client, opts.alertURL, buildAlertMessage(read.Data, target, decimals)); err != nil {
						logger.Warn().Err(err).Msg("alert webhook failed")
					} else {
						logger.Info().Msg("alert webhook notified")
					}
					cancelAlert()
				}
				return
			}
		}
		if opts.once {
			return
		}
	}
}

// alertQuery is merged into the webhook URL's own query.
type alertQuery struct {
	Message string `url:"message"`
}

func sendAlert(ctx context.Context, client *http.Client, baseURL, message string) error {
	if client == nil {
		client = http.DefaultClient
	}
	target, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parse alert url: %w", err)
	}
	qs, err := query.Values(alertQuery{Message: message})
	if err != nil {
		return fmt.Errorf("failed to generate query string: %w", err)
	}
	merged := target.Query()
	for key, values := range qs {
		merged[key] = values
	}
	target.RawQuery = merged.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("host", target.Host).Str("message", message).Msg("sending alert")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("alert webhook answered HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func buildAlertMessage(claimed, target *big.Int, decimals int32) string {
	return fmt.Sprintf(
		"Claimed %s >= target %s",
		token.FormatAmount(claimed, decimals),
		token.FormatAmount(target, decimals),
	)
}
