package claim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"airdrop-claim/internal/backend"
	"airdrop-claim/internal/chain"
	"airdrop-claim/internal/felt"
	"airdrop-claim/internal/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AccountSource yields the connected wallet's address.
type AccountSource interface {
	Accounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (string, error)
}

// Backend fetches allocation data for an address.
type Backend interface {
	FetchAllocationAmount(ctx context.Context, address string) (*big.Int, error)
	FetchClaimCalldata(ctx context.Context, address string) (*backend.ClaimCalldata, error)
}

// ClaimedReader reads the amount an address already claimed on chain.
type ClaimedReader interface {
	Read(ctx context.Context, address string) chain.Read
}

// ClaimWriter submits a claim with the given calldata.
type ClaimWriter interface {
	Claim(ctx context.Context, calldata backend.ClaimCalldata) (string, error)
}

// Options wires a Controller to its collaborators.
type Options struct {
	Wallet  AccountSource
	Backend Backend
	Reader  ClaimedReader
	Writer  ClaimWriter

	// ChainID, when set, must match the wallet's chain on Connect.
	ChainID string
	// AutoPrepare fetches calldata as soon as an address is known.
	AutoPrepare bool
}

type fetchKind int

const (
	fetchCalldata fetchKind = iota
	fetchClaimed
	fetchAllocation
)

type ticket struct {
	kind    fetchKind
	id      uint64
	address string
	ctx     context.Context
	cancel  context.CancelFunc
}

// Controller drives a claim session: address acquisition, calldata fetch,
// and gated submission. Informational reads run alongside and never gate it.
//
// Every fetch carries a monotonic request id and only the latest issued id of
// its kind, for the current address, is applied. Changing the address cancels
// everything in flight.
type Controller struct {
	opts Options
	id   string

	mu         sync.Mutex
	session    Session
	seq        uint64
	latest     map[fetchKind]uint64
	inflight   map[uint64]*ticket
	nextMsgID  int
	submitting bool
}

// New returns a Controller in the Disconnected state.
func New(opts Options) *Controller {
	id := uuid.NewString()
	return &Controller{
		opts:     opts,
		id:       id,
		session:  Session{ID: id, State: Disconnected},
		latest:   map[fetchKind]uint64{},
		inflight: map[uint64]*ticket{},
	}
}

// Connect asks the wallet for its account and makes it the session address.
func (c *Controller) Connect(ctx context.Context) error {
	if c.opts.Wallet == nil {
		return c.fail(ctx, fmt.Errorf("%w: no wallet configured", ErrWalletNotConnected))
	}
	accounts, err := c.opts.Wallet.Accounts(ctx)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("%w: %w", ErrWalletNotConnected, err))
	}
	if len(accounts) == 0 || strings.TrimSpace(accounts[0]) == "" {
		return c.fail(ctx, fmt.Errorf("%w: wallet returned no account", ErrWalletNotConnected))
	}
	if c.opts.ChainID != "" {
		chainID, err := c.opts.Wallet.ChainID(ctx)
		if err != nil {
			return c.fail(ctx, fmt.Errorf("%w: %w", ErrWalletNotConnected, err))
		}
		if !strings.EqualFold(chainID, c.opts.ChainID) {
			return c.fail(ctx, fmt.Errorf("%w: wallet is on %s, expected %s", ErrWrongNetwork, chainID, c.opts.ChainID))
		}
	}
	return c.SetAddress(ctx, accounts[0])
}

// SetAddress normalizes address and makes it the session address. With
// AutoPrepare it then fetches calldata for it.
func (c *Controller) SetAddress(ctx context.Context, address string) error {
	if strings.TrimSpace(address) == "" {
		return c.fail(ctx, fmt.Errorf("%w: empty address", ErrWalletNotConnected))
	}
	normalized := felt.PadHex(strings.ToLower(strings.TrimSpace(address)))

	c.mu.Lock()
	if normalized != c.session.Address {
		c.resetLocked()
		c.session.Address = normalized
		c.session.State = AddressKnown
	}
	c.mu.Unlock()

	c.logger(ctx).Info().Str("address", normalized).Msg("wallet address set")

	if c.opts.AutoPrepare {
		return c.Prepare(ctx)
	}
	return nil
}

// Disconnect forgets the address and everything fetched for it.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.session.Address = ""
	c.session.State = Disconnected
}

// Prepare fetches the claim calldata for the session address. The session
// becomes ready only when the calldata carries an amount. Once a claim was
// submitted for the address, Prepare records ErrAlreadySubmitted instead.
func (c *Controller) Prepare(ctx context.Context) error {
	t, err := c.issue(ctx, fetchCalldata, nil)
	if err != nil {
		return err
	}

	calldata, fetchErr := c.opts.Backend.FetchClaimCalldata(t.ctx, t.address)

	c.mu.Lock()
	if !c.finishLocked(t) {
		c.mu.Unlock()
		c.logger(ctx).Debug().Uint64("request", t.id).Msg("discarding superseded calldata")
		return ErrSuperseded
	}
	var rejected *backend.Error
	switch {
	case c.session.State == Submitted:
		err = ErrAlreadySubmitted
	case errors.As(fetchErr, &rejected) && rejected.Status == http.StatusBadRequest:
		// the backend answers an address outside the allocation tree with a 400
		err = fmt.Errorf("%w: %s", ErrIneligibleForClaim, rejected.Message)
		c.session.Calldata = nil
		c.session.Ready = false
		c.session.State = Failed
	case fetchErr != nil:
		err = fetchErr
	case calldata == nil || strings.TrimSpace(calldata.Amount) == "":
		err = fmt.Errorf("%w: backend returned no amount for %s", ErrIneligibleForClaim, t.address)
		c.session.Calldata = nil
		c.session.Ready = false
		c.session.State = Failed
	default:
		c.session.Calldata = calldata
		c.session.Ready = true
		c.session.State = CalldataFetched
	}
	if err != nil {
		c.addMessageLocked(err, false)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger(ctx).Error().Err(err).Msg("prepare claim failed")
		return err
	}
	c.logger(ctx).Info().Str("amount", calldata.Amount).Int("proof_len", len(calldata.Proof)).Msg("claim ready")
	return nil
}

// Submit sends the held calldata to the write adapter. It does nothing but
// record ErrClaimNotReady unless the session is ready.
func (c *Controller) Submit(ctx context.Context) (string, error) {
	c.mu.Lock()
	if !c.session.Ready || c.session.Calldata == nil || c.submitting {
		err := ErrClaimNotReady
		c.addMessageLocked(err, false)
		c.mu.Unlock()
		c.logger(ctx).Error().Err(err).Msg("claim not submitted")
		return "", err
	}
	calldata := *c.session.Calldata
	calldata.Proof = append([]string(nil), c.session.Calldata.Proof...)
	address := c.session.Address
	c.submitting = true
	c.mu.Unlock()

	txHash, err := c.opts.Writer.Claim(ctx, calldata)

	c.mu.Lock()
	c.submitting = false
	if err != nil {
		if !errors.Is(err, ErrChainWriteRejected) {
			err = fmt.Errorf("%w: %w", ErrChainWriteRejected, err)
		}
		c.addMessageLocked(err, false)
	} else if c.session.Address == address {
		c.session.TxHash = txHash
		c.session.Ready = false
		c.session.State = Submitted
	}
	c.mu.Unlock()

	if err != nil {
		c.logger(ctx).Error().Err(err).Msg("claim submission failed")
		return "", err
	}
	c.logger(ctx).Info().Str("tx_hash", txHash).Msg("claim submitted")
	return txHash, nil
}

// RefreshClaimed re-reads the amount already claimed and returns what is now
// displayed. A failed read keeps the previously displayed value.
func (c *Controller) RefreshClaimed(ctx context.Context) (chain.Read, error) {
	t, err := c.issue(ctx, fetchClaimed, func(s *Session) { s.Claimed.IsLoading = true })
	if err != nil {
		return chain.Read{}, err
	}

	read := c.opts.Reader.Read(t.ctx, t.address)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finishLocked(t) {
		return c.session.Claimed, ErrSuperseded
	}
	if read.IsError {
		c.session.Claimed.IsLoading = false
		c.session.Claimed.IsError = true
		c.session.Claimed.Err = read.Err
		c.addMessageLocked(read.Err, false)
		return c.session.Claimed, read.Err
	}
	c.session.Claimed = chain.Read{Data: read.Data}
	return c.session.Claimed, nil
}

// RefreshAllocation re-fetches the allocation amount. A failed fetch keeps the
// previously displayed value.
func (c *Controller) RefreshAllocation(ctx context.Context) (*big.Int, error) {
	t, err := c.issue(ctx, fetchAllocation, func(s *Session) { s.AllocationLoading = true })
	if err != nil {
		return nil, err
	}

	amount, fetchErr := c.opts.Backend.FetchAllocationAmount(t.ctx, t.address)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finishLocked(t) {
		return nil, ErrSuperseded
	}
	c.session.AllocationLoading = false
	if fetchErr != nil {
		c.addMessageLocked(fetchErr, false)
		return nil, fetchErr
	}
	c.session.Allocation = amount
	return new(big.Int).Set(amount), nil
}

// Reconcile compares the held calldata amount with the claimed and allocated
// amounts and records a warning for each disagreement. It never blocks Submit.
func (c *Controller) Reconcile() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Calldata == nil {
		return nil
	}
	amount, err := felt.ToBig(c.session.Calldata.Amount)
	if err != nil {
		return []Message{c.addMessageLocked(fmt.Errorf("calldata amount unreadable: %w", err), true)}
	}

	var warnings []Message
	if claimed := c.session.Claimed.Data; claimed != nil && amount.Cmp(claimed) <= 0 {
		warnings = append(warnings, c.addMessageLocked(
			fmt.Errorf("nothing left to claim: calldata amount %s, already claimed %s", amount, claimed), true))
	}
	if alloc := c.session.Allocation; alloc != nil && amount.Cmp(alloc) != 0 {
		warnings = append(warnings, c.addMessageLocked(
			fmt.Errorf("calldata amount %s differs from allocation %s", amount, alloc), true))
	}
	return warnings
}

// Snapshot returns a copy of the session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// Messages returns the messages not yet dismissed.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.session.Messages...)
}

// Dismiss removes the message with the given id.
func (c *Controller) Dismiss(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.session.Messages {
		if m.ID == id {
			c.session.Messages = append(c.session.Messages[:i], c.session.Messages[i+1:]...)
			return true
		}
	}
	return false
}

// issue registers a new request of kind for the current address, superseding
// and cancelling the previous one of the same kind.
func (c *Controller) issue(ctx context.Context, kind fetchKind, onIssue func(*Session)) (*ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Address == "" {
		err := ErrWalletNotConnected
		c.addMessageLocked(err, false)
		return nil, err
	}

	if prev, ok := c.inflight[c.latest[kind]]; ok {
		prev.cancel()
	}

	c.seq++
	fctx, cancel := context.WithCancel(ctx)
	t := &ticket{kind: kind, id: c.seq, address: c.session.Address, ctx: fctx, cancel: cancel}
	c.latest[kind] = t.id
	c.inflight[t.id] = t
	if onIssue != nil {
		onIssue(&c.session)
	}
	return t, nil
}

// finishLocked releases t and reports whether its result may be applied.
func (c *Controller) finishLocked(t *ticket) bool {
	t.cancel()
	delete(c.inflight, t.id)
	return c.latest[t.kind] == t.id && c.session.Address == t.address
}

// resetLocked cancels in-flight requests and clears everything tied to the
// current address. Messages survive so the user can still read them.
func (c *Controller) resetLocked() {
	for id, t := range c.inflight {
		t.cancel()
		delete(c.inflight, id)
	}
	c.latest = map[fetchKind]uint64{}
	c.submitting = false

	c.session.Calldata = nil
	c.session.Ready = false
	c.session.TxHash = ""
	c.session.Claimed = chain.Read{}
	c.session.Allocation = nil
	c.session.AllocationLoading = false
}

func (c *Controller) addMessageLocked(err error, warning bool) Message {
	c.nextMsgID++
	m := Message{ID: c.nextMsgID, Err: err, Warning: warning}
	c.session.Messages = append(c.session.Messages, m)
	return m
}

func (c *Controller) fail(ctx context.Context, err error) error {
	c.mu.Lock()
	c.addMessageLocked(err, false)
	c.mu.Unlock()
	c.logger(ctx).Error().Err(err).Msg("wallet connection failed")
	return err
}

func (c *Controller) logger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(logging.AddSessionIDToContext(ctx, c.id))
}
