package claim

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"airdrop-claim/internal/backend"
	"airdrop-claim/internal/chain"
	"airdrop-claim/internal/felt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) Accounts(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]string)
	return accounts, args.Error(1)
}

func (m *mockWallet) ChainID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Claim(ctx context.Context, calldata backend.ClaimCalldata) (string, error) {
	args := m.Called(ctx, calldata)
	return args.String(0), args.Error(1)
}

// fakeBackend answers per address; a gate, when present, holds the response
// until it is closed.
type fakeBackend struct {
	mu          sync.Mutex
	calldata    map[string]*backend.ClaimCalldata
	allocations map[string]*big.Int
	gates       map[string]chan struct{}
	started     chan string
	err         error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calldata:    map[string]*backend.ClaimCalldata{},
		allocations: map[string]*big.Int{},
		gates:       map[string]chan struct{}{},
		started:     make(chan string, 16),
	}
}

func (f *fakeBackend) wait(address string) {
	f.mu.Lock()
	gate := f.gates[address]
	f.mu.Unlock()
	f.started <- address
	if gate != nil {
		<-gate
	}
}

// Responses are captured before waiting on the gate, so a held request
// answers with what the backend knew when it was issued.
func (f *fakeBackend) FetchAllocationAmount(ctx context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	amount, err := f.allocations[address], f.err
	f.mu.Unlock()
	f.wait(address)
	return amount, err
}

func (f *fakeBackend) FetchClaimCalldata(ctx context.Context, address string) (*backend.ClaimCalldata, error) {
	f.mu.Lock()
	calldata, err := f.calldata[address], f.err
	f.mu.Unlock()
	f.wait(address)
	return calldata, err
}

type fakeReader struct {
	reads []chain.Read
	calls int
}

func (f *fakeReader) Read(ctx context.Context, address string) chain.Read {
	r := f.reads[f.calls]
	f.calls++
	return r
}

var (
	addrA = felt.PadHex("1a")
	addrB = felt.PadHex("2b")
)

func TestConnectNormalizesAndAutoPrepares(t *testing.T) {
	wallet := new(mockWallet)
	wallet.On("Accounts", mock.Anything).Return([]string{"0x1A"}, nil)

	be := newFakeBackend()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "500", Proof: []string{"0xabc"}}

	c := New(Options{Wallet: wallet, Backend: be, AutoPrepare: true})
	require.NoError(t, c.Connect(context.Background()))

	s := c.Snapshot()
	assert.Equal(t, "0x"+strings.Repeat("0", 62)+"1a", s.Address)
	assert.Equal(t, CalldataFetched, s.State)
	assert.True(t, s.Ready)
	assert.NotEmpty(t, s.ID)
}

func TestReadyClaimHandsExactCalldataToWriter(t *testing.T) {
	be := newFakeBackend()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "500", Proof: []string{"0xabc"}}

	writer := new(mockWriter)
	writer.On("Claim", mock.Anything, backend.ClaimCalldata{Amount: "500", Proof: []string{"0xabc"}}).Return("0xfeed", nil)

	c := New(Options{Backend: be, Writer: writer})
	require.NoError(t, c.SetAddress(context.Background(), "1a"))
	assert.Equal(t, AddressKnown, c.Snapshot().State)

	require.NoError(t, c.Prepare(context.Background()))
	assert.True(t, c.Snapshot().Ready)

	txHash, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", txHash)

	s := c.Snapshot()
	assert.Equal(t, Submitted, s.State)
	assert.Equal(t, "0xfeed", s.TxHash)
	assert.False(t, s.Ready)
	writer.AssertExpectations(t)
}

func TestEmptyAmountIsAnErrorState(t *testing.T) {
	be := newFakeBackend()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "", Proof: []string{"0xabc"}}
	writer := new(mockWriter)

	c := New(Options{Backend: be, Writer: writer})
	require.NoError(t, c.SetAddress(context.Background(), addrA))

	err := c.Prepare(context.Background())
	assert.True(t, errors.Is(err, ErrIneligibleForClaim))

	s := c.Snapshot()
	assert.Equal(t, Failed, s.State)
	assert.False(t, s.Ready)
	require.Len(t, s.Messages, 1)
	assert.True(t, errors.Is(s.Messages[0].Err, ErrIneligibleForClaim))

	_, err = c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrClaimNotReady))
	writer.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
}

func TestPrepareAddressNotInTreeIsIneligible(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_calldata", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`"Address not found in tree"`))
	}))
	defer ts.Close()

	client, err := backend.New(ts.URL, 0, nil)
	require.NoError(t, err)

	c := New(Options{Backend: client})
	require.NoError(t, c.SetAddress(context.Background(), "1a"))

	err = c.Prepare(context.Background())
	assert.True(t, errors.Is(err, ErrIneligibleForClaim))
	assert.Contains(t, err.Error(), "Address not found in tree")

	s := c.Snapshot()
	assert.Equal(t, Failed, s.State)
	assert.False(t, s.Ready)
	require.Len(t, s.Messages, 1)
	assert.True(t, errors.Is(s.Messages[0].Err, ErrIneligibleForClaim))
}

func TestPrepareAfterSubmitDoesNotRearm(t *testing.T) {
	be := newFakeBackend()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "500", Proof: []string{"0xabc"}}

	writer := new(mockWriter)
	writer.On("Claim", mock.Anything, mock.Anything).Return("0xfeed", nil).Once()

	c := New(Options{Backend: be, Writer: writer})
	require.NoError(t, c.SetAddress(context.Background(), addrA))
	require.NoError(t, c.Prepare(context.Background()))
	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	err = c.Prepare(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadySubmitted))
	s := c.Snapshot()
	assert.Equal(t, Submitted, s.State)
	assert.False(t, s.Ready)
	assert.Equal(t, "0xfeed", s.TxHash)

	_, err = c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrClaimNotReady))
	writer.AssertNumberOfCalls(t, "Claim", 1)
}

func TestSubmitWithoutPrepareIsNoop(t *testing.T) {
	writer := new(mockWriter)
	c := New(Options{Writer: writer})

	_, err := c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrClaimNotReady))
	assert.Len(t, c.Messages(), 1)
	writer.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
}

func TestPrepareWithoutAddress(t *testing.T) {
	c := New(Options{Backend: newFakeBackend()})
	err := c.Prepare(context.Background())
	assert.True(t, errors.Is(err, ErrWalletNotConnected))
	assert.Equal(t, Disconnected, c.Snapshot().State)
}

func TestPrepareBackendFailureKeepsAddressKnown(t *testing.T) {
	be := newFakeBackend()
	be.err = &backend.Error{Kind: backend.ErrBackendUnavailable, Path: "get_calldata"}

	c := New(Options{Backend: be})
	require.NoError(t, c.SetAddress(context.Background(), addrA))

	err := c.Prepare(context.Background())
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
	assert.Equal(t, AddressKnown, c.Snapshot().State)
	assert.False(t, c.Snapshot().Ready)
}

func TestSubmitRejectedByWallet(t *testing.T) {
	be := newFakeBackend()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "500", Proof: []string{"0xabc"}}
	writer := new(mockWriter)
	writer.On("Claim", mock.Anything, mock.Anything).Return("", errors.New("user refused"))

	c := New(Options{Backend: be, Writer: writer})
	require.NoError(t, c.SetAddress(context.Background(), addrA))
	require.NoError(t, c.Prepare(context.Background()))

	_, err := c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrChainWriteRejected))

	s := c.Snapshot()
	assert.Equal(t, CalldataFetched, s.State)
	assert.True(t, s.Ready)
}

func TestConnectErrors(t *testing.T) {
	wallet := new(mockWallet)
	wallet.On("Accounts", mock.Anything).Return(nil, errors.New("locked"))
	c := New(Options{Wallet: wallet})
	assert.True(t, errors.Is(c.Connect(context.Background()), ErrWalletNotConnected))

	empty := new(mockWallet)
	empty.On("Accounts", mock.Anything).Return([]string{}, nil)
	c = New(Options{Wallet: empty})
	assert.True(t, errors.Is(c.Connect(context.Background()), ErrWalletNotConnected))

	wrongChain := new(mockWallet)
	wrongChain.On("Accounts", mock.Anything).Return([]string{"0x1a"}, nil)
	wrongChain.On("ChainID", mock.Anything).Return("SN_SEPOLIA", nil)
	c = New(Options{Wallet: wrongChain, ChainID: "SN_MAIN"})
	assert.True(t, errors.Is(c.Connect(context.Background()), ErrWrongNetwork))
	assert.Equal(t, Disconnected, c.Snapshot().State)
}

func TestAllocationLastRequestedWins(t *testing.T) {
	be := newFakeBackend()
	be.allocations[addrA] = big.NewInt(100)
	be.allocations[addrB] = big.NewInt(200)
	gateA := make(chan struct{})
	be.gates[addrA] = gateA

	c := New(Options{Backend: be})
	ctx := context.Background()
	require.NoError(t, c.SetAddress(ctx, addrA))

	done := make(chan error, 1)
	go func() {
		_, err := c.RefreshAllocation(ctx)
		done <- err
	}()
	require.Equal(t, addrA, <-be.started)

	require.NoError(t, c.SetAddress(ctx, addrB))
	amount, err := c.RefreshAllocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200", amount.String())
	require.Equal(t, addrB, <-be.started)

	// A resolves last, after B
	close(gateA)
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrSuperseded))
	case <-time.After(5 * time.Second):
		t.Fatal("superseded fetch did not return")
	}

	s := c.Snapshot()
	assert.Equal(t, addrB, s.Address)
	assert.Equal(t, "200", s.Allocation.String())
}

func TestCalldataLastRequestedWinsForSameAddress(t *testing.T) {
	be := newFakeBackend()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "", Proof: nil}
	gate := make(chan struct{})
	be.gates[addrA] = gate

	c := New(Options{Backend: be})
	ctx := context.Background()
	require.NoError(t, c.SetAddress(ctx, addrA))

	first := make(chan error, 1)
	go func() { first <- c.Prepare(ctx) }()
	require.Equal(t, addrA, <-be.started)

	// the second request sees fresh calldata and no gate
	be.mu.Lock()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "500", Proof: []string{"0xabc"}}
	delete(be.gates, addrA)
	be.mu.Unlock()

	require.NoError(t, c.Prepare(ctx))
	<-be.started

	close(gate)
	assert.True(t, errors.Is(<-first, ErrSuperseded))

	s := c.Snapshot()
	assert.True(t, s.Ready)
	assert.Equal(t, CalldataFetched, s.State)
	assert.Empty(t, s.Messages)
}

func TestClaimedReadErrorKeepsDisplayedValue(t *testing.T) {
	reader := &fakeReader{reads: []chain.Read{
		{Data: big.NewInt(42)},
		{IsError: true, Err: errors.New("rpc down")},
	}}
	c := New(Options{Reader: reader})
	ctx := context.Background()
	require.NoError(t, c.SetAddress(ctx, addrA))

	read, err := c.RefreshClaimed(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", read.Data.String())

	read, err = c.RefreshClaimed(ctx)
	require.Error(t, err)
	assert.True(t, read.IsError)
	assert.Equal(t, "42", read.Data.String())

	s := c.Snapshot()
	assert.Equal(t, "42", s.Claimed.Data.String())
	assert.False(t, s.Claimed.IsLoading)
}

func TestAllocationErrorKeepsDisplayedValue(t *testing.T) {
	be := newFakeBackend()
	be.allocations[addrA] = big.NewInt(7)

	c := New(Options{Backend: be})
	ctx := context.Background()
	require.NoError(t, c.SetAddress(ctx, addrA))

	_, err := c.RefreshAllocation(ctx)
	require.NoError(t, err)

	be.err = &backend.Error{Kind: backend.ErrBackendResponseInvalid, Path: "get_allocation_amount"}
	_, err = c.RefreshAllocation(ctx)
	assert.True(t, errors.Is(err, ErrBackendResponseInvalid))
	assert.Equal(t, "7", c.Snapshot().Allocation.String())
}

func TestReconcileWarnings(t *testing.T) {
	be := newFakeBackend()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "0x64", Proof: []string{"0xabc"}}
	be.allocations[addrA] = big.NewInt(150)
	reader := &fakeReader{reads: []chain.Read{{Data: big.NewInt(100)}}}

	c := New(Options{Backend: be, Reader: reader})
	ctx := context.Background()
	require.NoError(t, c.SetAddress(ctx, addrA))
	require.NoError(t, c.Prepare(ctx))
	_, err := c.RefreshClaimed(ctx)
	require.NoError(t, err)
	_, err = c.RefreshAllocation(ctx)
	require.NoError(t, err)

	warnings := c.Reconcile()
	require.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.True(t, w.Warning)
	}
	// advisory only
	assert.True(t, c.Snapshot().Ready)
}

func TestDismissAndDisconnect(t *testing.T) {
	be := newFakeBackend()
	be.calldata[addrA] = &backend.ClaimCalldata{Amount: "500", Proof: []string{"0xabc"}}

	c := New(Options{Backend: be})
	ctx := context.Background()
	_, _ = c.Submit(ctx)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, c.Dismiss(msgs[0].ID))
	assert.False(t, c.Dismiss(msgs[0].ID))
	assert.Empty(t, c.Messages())

	require.NoError(t, c.SetAddress(ctx, addrA))
	require.NoError(t, c.Prepare(ctx))
	c.Disconnect()

	s := c.Snapshot()
	assert.Equal(t, Disconnected, s.State)
	assert.Empty(t, s.Address)
	assert.Nil(t, s.Calldata)
	assert.False(t, s.Ready)
}
