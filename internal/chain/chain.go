package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"airdrop-claim/internal/config"
	"airdrop-claim/internal/felt"
)

const (
	// FunctionAmountAlreadyClaimed is the contract view returning the claimed total of an address.
	FunctionAmountAlreadyClaimed = "amount_already_claimed"
	// FunctionClaim is the contract entry point that transfers the allocation.
	FunctionClaim = "claim"
)

var (
	// ErrWriteRejected the wallet refused or failed to sign and broadcast the transaction
	ErrWriteRejected = errors.New("chain write rejected")
	// ErrInvalidCall the call could not be populated from the given arguments
	ErrInvalidCall = errors.New("invalid call")
)

// Caller issues a JSON-RPC request; *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, config.Endpoint, error)
}

// Call is a populated contract invocation as the wallet API expects it.
type Call struct {
	ContractAddress string   `json:"contract_address"`
	Entrypoint      string   `json:"entry_point"`
	Calldata        []string `json:"calldata"`
}

// PopulateClaim builds the claim call. Amount is serialized as one felt and
// the proof as a Cairo array: its length followed by the elements. A non-empty
// claimant selects the claim(address, amount, proof) form of the contract.
func PopulateClaim(contract, claimant, amount string, proof []string) (Call, error) {
	amountValue, err := felt.ToBig(amount)
	if err != nil {
		return Call{}, fmt.Errorf("%w: amount: %v", ErrInvalidCall, err)
	}

	calldata := make([]string, 0, len(proof)+3)
	if claimant != "" {
		addr, err := felt.NormalizeAddress(claimant)
		if err != nil {
			return Call{}, fmt.Errorf("%w: claimant: %v", ErrInvalidCall, err)
		}
		calldata = append(calldata, addr)
	}
	calldata = append(calldata, felt.FromBig(amountValue), fmt.Sprintf("0x%x", len(proof)))
	for i, element := range proof {
		value, err := felt.ToBig(element)
		if err != nil {
			return Call{}, fmt.Errorf("%w: proof element %d: %v", ErrInvalidCall, i, err)
		}
		calldata = append(calldata, felt.FromBig(value))
	}

	return Call{
		ContractAddress: felt.PadHex(contract),
		Entrypoint:      FunctionClaim,
		Calldata:        calldata,
	}, nil
}
