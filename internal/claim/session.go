package claim

import (
	"math/big"

	"airdrop-claim/internal/backend"
	"airdrop-claim/internal/chain"
)

// State is the position of a session in the claim flow.
type State int

const (
	// Disconnected no wallet address is known
	Disconnected State = iota
	// AddressKnown a normalized wallet address is set
	AddressKnown
	// CalldataFetched calldata was fetched and the claim is ready to submit
	CalldataFetched
	// Submitted the claim was handed to the wallet
	Submitted
	// Failed the fetched calldata cannot be claimed with
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case AddressKnown:
		return "address-known"
	case CalldataFetched:
		return "calldata-fetched"
	case Submitted:
		return "submitted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Message is a user visible notice that stays until dismissed.
type Message struct {
	ID      int
	Err     error
	Warning bool
}

func (m Message) String() string {
	if m.Warning {
		return "warning: " + m.Err.Error()
	}
	return "error: " + m.Err.Error()
}

// Session is the whole state of one claim session.
type Session struct {
	ID      string
	State   State
	Address string

	Calldata *backend.ClaimCalldata
	Ready    bool
	TxHash   string

	// Claimed keeps its last good Data across failed reads.
	Claimed           chain.Read
	Allocation        *big.Int
	AllocationLoading bool

	Messages []Message
}

func (s Session) clone() Session {
	out := s
	if s.Calldata != nil {
		cd := *s.Calldata
		cd.Proof = append([]string(nil), s.Calldata.Proof...)
		out.Calldata = &cd
	}
	if s.Claimed.Data != nil {
		out.Claimed.Data = new(big.Int).Set(s.Claimed.Data)
	}
	if s.Allocation != nil {
		out.Allocation = new(big.Int).Set(s.Allocation)
	}
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}
