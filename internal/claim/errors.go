package claim

import (
	"errors"

	"airdrop-claim/internal/backend"
	"airdrop-claim/internal/chain"
)

var (
	// ErrWalletNotConnected no wallet address is known for the session
	ErrWalletNotConnected = errors.New("wallet not connected")
	// ErrWrongNetwork the wallet is connected to another chain than the configured one
	ErrWrongNetwork = errors.New("wallet connected to the wrong network")
	// ErrIneligibleForClaim the backend has no claimable amount for the address
	ErrIneligibleForClaim = errors.New("address is not eligible for a claim")
	// ErrClaimNotReady submission was attempted before calldata was fetched
	ErrClaimNotReady = errors.New("prepare the claim first")
	// ErrAlreadySubmitted a claim was already submitted for the session address
	ErrAlreadySubmitted = errors.New("claim already submitted")
	// ErrSuperseded the result belonged to a request that a newer one replaced
	ErrSuperseded = errors.New("request superseded")

	// ErrBackendUnavailable the allocation backend could not be reached
	ErrBackendUnavailable = backend.ErrBackendUnavailable
	// ErrBackendResponseInvalid the allocation backend answered with an unexpected document
	ErrBackendResponseInvalid = backend.ErrBackendResponseInvalid
	// ErrChainWriteRejected the wallet refused or failed to submit the claim
	ErrChainWriteRejected = chain.ErrWriteRejected
)
