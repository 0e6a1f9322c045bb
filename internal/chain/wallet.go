package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"airdrop-claim/internal/backend"

	"github.com/rs/zerolog"
)

// Wallet is the account that owns the claim: it reports its address and
// signs and broadcasts invocations.
type Wallet interface {
	Accounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (string, error)
	AddInvokeTransaction(ctx context.Context, calls []Call) (string, error)
}

// RemoteWallet talks to an external signer over the Starknet wallet JSON-RPC API.
type RemoteWallet struct {
	caller Caller
}

// NewRemoteWallet returns a wallet backed by the signer reachable through caller.
func NewRemoteWallet(caller Caller) *RemoteWallet {
	return &RemoteWallet{caller: caller}
}

// Accounts asks the wallet for its account addresses.
func (w *RemoteWallet) Accounts(ctx context.Context) ([]string, error) {
	raw, _, err := w.caller.Call(ctx, "wallet_requestAccounts", map[string]interface{}{"silent_mode": false})
	if err != nil {
		return nil, fmt.Errorf("request accounts: %w", err)
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

// ChainID returns the chain the wallet is connected to.
func (w *RemoteWallet) ChainID(ctx context.Context) (string, error) {
	raw, _, err := w.caller.Call(ctx, "wallet_requestChainId", map[string]interface{}{})
	if err != nil {
		return "", fmt.Errorf("request chain id: %w", err)
	}
	var chainID string
	if err := json.Unmarshal(raw, &chainID); err != nil {
		return "", fmt.Errorf("decode chain id: %w", err)
	}
	return chainID, nil
}

// AddInvokeTransaction hands the calls to the wallet and returns the
// transaction hash once it has been signed and broadcast.
func (w *RemoteWallet) AddInvokeTransaction(ctx context.Context, calls []Call) (string, error) {
	raw, _, err := w.caller.Call(ctx, "wallet_addInvokeTransaction", map[string]interface{}{"calls": calls})
	if err != nil {
		return "", err
	}
	var result struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	if result.TransactionHash == "" {
		return "", errors.New("wallet returned no transaction hash")
	}
	return result.TransactionHash, nil
}

// Writer populates claim calls and submits them through a wallet. There is no
// receipt tracking: Claim returns as soon as the wallet has broadcast.
type Writer struct {
	wallet   Wallet
	contract string
}

// NewWriter returns a Writer for the claim contract.
func NewWriter(wallet Wallet, contract string) *Writer {
	return &Writer{wallet: wallet, contract: contract}
}

// Populate builds the claim call for calldata without submitting it.
func (w *Writer) Populate(calldata backend.ClaimCalldata) (Call, error) {
	return PopulateClaim(w.contract, calldata.Address, calldata.Amount, calldata.Proof)
}

// Claim populates and submits the claim, returning the transaction hash.
func (w *Writer) Claim(ctx context.Context, calldata backend.ClaimCalldata) (string, error) {
	call, err := w.Populate(calldata)
	if err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Info().
		Str("contract", call.ContractAddress).
		Int("calldata_len", len(call.Calldata)).
		Msg("submitting claim")

	txHash, err := w.wallet.AddInvokeTransaction(ctx, []Call{call})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteRejected, err)
	}
	return txHash, nil
}
