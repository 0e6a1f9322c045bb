package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"airdrop-claim/internal/felt"

	"github.com/rs/zerolog"
)

// Read is the outcome of a contract read: the value, or the fact that it is
// still in flight or failed.
type Read struct {
	Data      *big.Int
	IsLoading bool
	IsError   bool
	Err       error
}

// ClaimedReader reads amount_already_claimed from the claim contract.
type ClaimedReader struct {
	caller   Caller
	contract string
	selector string
}

// NewClaimedReader returns a reader for the contract at the given address.
func NewClaimedReader(caller Caller, contract string) *ClaimedReader {
	return &ClaimedReader{
		caller:   caller,
		contract: felt.PadHex(contract),
		selector: felt.Selector(FunctionAmountAlreadyClaimed),
	}
}

// Read queries the amount already claimed by address at the latest block.
func (r *ClaimedReader) Read(ctx context.Context, address string) Read {
	value, err := r.read(ctx, address)
	if err != nil {
		return Read{IsError: true, Err: err}
	}
	return Read{Data: value}
}

func (r *ClaimedReader) read(ctx context.Context, address string) (*big.Int, error) {
	params := map[string]interface{}{
		"request": map[string]interface{}{
			"contract_address":     r.contract,
			"entry_point_selector": r.selector,
			"calldata":             []string{felt.PadHex(address)},
		},
		"block_id": "latest",
	}

	raw, endpoint, err := r.caller.Call(ctx, "starknet_call", params)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", FunctionAmountAlreadyClaimed, err)
	}
	zerolog.Ctx(ctx).Debug().Str("endpoint", endpoint.Name).Str("address", address).Msg("read claimed amount")

	var result []string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result from %s", FunctionAmountAlreadyClaimed)
	}
	// u128 fits in the first felt; a u256 return spreads low and high over two.
	low, err := felt.ToBig(result[0])
	if err != nil {
		return nil, err
	}
	if len(result) > 1 {
		high, err := felt.ToBig(result[1])
		if err != nil {
			return nil, err
		}
		low.Add(low, high.Lsh(high, 128))
	}
	return low, nil
}
