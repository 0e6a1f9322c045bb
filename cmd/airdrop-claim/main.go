package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airdrop-claim/internal/backend"
	"airdrop-claim/internal/chain"
	"airdrop-claim/internal/claim"
	"airdrop-claim/internal/config"
	"airdrop-claim/internal/felt"
	"airdrop-claim/internal/logging"
	"airdrop-claim/internal/rpc"
	"airdrop-claim/internal/token"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// set at build time with -ldflags "-X main.version=..."
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

const keyAddress = "address"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "airdrop-claim",
		Short:         "airdrop-claim checks and claims a Starknet token allocation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, _ := logging.SetupLogger(cmd.Context(), v.GetString(config.KeyEnvironment), v.GetBool(config.KeyDebug))
			cmd.SetContext(ctx)
			if addr := v.GetString(config.KeyMetricsAddr); addr != "" {
				go serveMetrics(ctx, addr)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String(config.KeyConfigFile, "", "path to a TOML config file (may hold [[rpc.endpoints]] blocks)")
	flags.String(config.KeyBackendURL, "", "base URL of the allocation backend")
	flags.String(config.KeyContractAddress, "", "address of the claim contract")
	flags.String(config.KeyNetwork, "mainnet", "starknet network: mainnet or sepolia")
	flags.String(config.KeyWalletURL, "", "JSON-RPC URL of the wallet signer")
	flags.String(config.KeyRPCURL, "", "starknet JSON-RPC URL, tried before configured endpoints")
	flags.Int(config.KeyRound, 0, "allocation round, 0 for the latest")
	flags.Int(config.KeyDecimals, token.DefaultDecimals, "token decimals used to display amounts")
	flags.String(config.KeyEnvironment, logging.EnvironmentLocal, "the environment, local logs to the console")
	flags.Bool(config.KeyDebug, false, "turn on debug logging")
	flags.String(config.KeyMetricsAddr, "", "serve prometheus metrics on this address")
	flags.String(keyAddress, "", "read for this address instead of asking the wallet")

	env := map[string]string{
		config.KeyConfigFile:      "CLAIM_CONFIG",
		config.KeyBackendURL:      "BACKEND_URL",
		config.KeyContractAddress: "CONTRACT_ADDRESS",
		config.KeyNetwork:         "NETWORK",
		config.KeyWalletURL:       "WALLET_URL",
		config.KeyRPCURL:          "RPC_URL",
		config.KeyRound:           "ROUND",
		config.KeyDecimals:        "DECIMALS",
		config.KeyEnvironment:     "ENV",
		config.KeyDebug:           "DEBUG",
		config.KeyMetricsAddr:     "METRICS_ADDR",
		keyAddress:                "CLAIM_ADDRESS",
	}
	for key, name := range env {
		Must(v.BindPFlag(key, flags.Lookup(key)))
		Must(v.BindEnv(key, name))
	}

	root.AddCommand(
		newStatusCmd(v),
		newCalldataCmd(v),
		newClaimCmd(v),
		newWatchCmd(v),
		newRootHashCmd(v),
		newVersionCmd(),
	)
	return root
}

// Must panics on a flag binding error.
func Must(err error) {
	if err != nil {
		panic(err)
	}
}

// app is everything a command needs for one claim session.
type app struct {
	cfg        *config.Config
	backend    *backend.Client
	writer     *chain.Writer
	controller *claim.Controller
	hasWallet  bool
}

func newApp(v *viper.Viper, autoPrepare bool) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	rpcClient, err := rpc.NewClient(cfg.Endpoints, nil)
	if err != nil {
		return nil, fmt.Errorf("build rpc client: %w", err)
	}
	backendClient, err := backend.New(cfg.BackendURL, cfg.Round, nil)
	if err != nil {
		return nil, fmt.Errorf("build backend client: %w", err)
	}

	opts := claim.Options{
		Backend:     backendClient,
		Reader:      chain.NewClaimedReader(rpcClient, cfg.ContractAddress),
		ChainID:     cfg.Network.ChainID,
		AutoPrepare: autoPrepare,
	}
	a := &app{cfg: cfg, backend: backendClient}

	if cfg.WalletURL != "" {
		walletRPC, err := rpc.NewClient([]config.Endpoint{{Name: "wallet", URL: cfg.WalletURL}}, &http.Client{Timeout: 5 * time.Minute})
		if err != nil {
			return nil, fmt.Errorf("build wallet client: %w", err)
		}
		wallet := chain.NewRemoteWallet(walletRPC)
		a.writer = chain.NewWriter(wallet, cfg.ContractAddress)
		opts.Wallet = wallet
		opts.Writer = a.writer
		a.hasWallet = true
	}

	a.controller = claim.New(opts)
	return a, nil
}

// connect makes an address known to the session: the --address flag when
// given, otherwise the wallet's account.
func (a *app) connect(ctx context.Context, v *viper.Viper) error {
	if addr := v.GetString(keyAddress); addr != "" {
		normalized, err := felt.NormalizeAddress(addr)
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		return a.controller.SetAddress(ctx, normalized)
	}
	if !a.hasWallet {
		return fmt.Errorf("%w: pass --%s or --%s", claim.ErrWalletNotConnected, config.KeyWalletURL, keyAddress)
	}
	return a.controller.Connect(ctx)
}

// flushMessages prints pending messages once and dismisses them.
func (a *app) flushMessages(w io.Writer) {
	for _, m := range a.controller.Messages() {
		fmt.Fprintln(w, m.String())
		a.controller.Dismiss(m.ID)
	}
}

func serveMetrics(ctx context.Context, addr string) {
	logger := zerolog.Ctx(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "get the version of this binary",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s\ncommit: %s\nbuild time: %s\n", version, commit, buildTime)
		},
	}
}
