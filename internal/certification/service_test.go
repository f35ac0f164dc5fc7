package certification

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carbon-scribe/vericarbon-engine/internal/access"
	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/ledger"
)

const (
	admin     = domain.Account("gadmin")
	issuer    = domain.Account("gissuer")
	recipient = domain.Account("grecipient")
	v1        = domain.Account("gv1")
	v2        = domain.Account("gv2")
	v3        = domain.Account("gv3")
	v4        = domain.Account("gv4")
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// MockMinter is a mock implementation of the Minter interface
type MockMinter struct {
	mock.Mock
}

func (m *MockMinter) Mint(ctx context.Context, id domain.AssetID, holder domain.Account, amount int64, expiry time.Time, documentRef string) error {
	args := m.Called(ctx, id, holder, amount, expiry, documentRef)
	return args.Error(0)
}

type fixture struct {
	ctx      context.Context
	registry *access.Registry
	ledger   *ledger.Ledger
	service  *Service
	events   *audit.Recorder
}

func newFixture(t *testing.T, policy QuorumPolicy, verifiers ...domain.Account) *fixture {
	t.Helper()
	ctx := context.Background()
	rec := audit.NewRecorder()

	registry, err := access.NewRegistry(admin, rec, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, registry.GrantRole(ctx, admin, access.RoleIssuer, issuer))
	for _, v := range verifiers {
		require.NoError(t, registry.GrantRole(ctx, admin, access.RoleVerifier, v))
	}

	l := ledger.NewLedger(ledger.Options{Clock: clock}, rec, zap.NewNop())
	svc := NewService(registry, l, Options{Policy: policy, Clock: clock}, rec, zap.NewNop())

	return &fixture{ctx: ctx, registry: registry, ledger: l, service: svc, events: rec}
}

func (f *fixture) propose(t *testing.T, amount int64) *Project {
	t.Helper()
	p, err := f.service.Propose(f.ctx, ProposeRequest{
		Issuer:       issuer,
		Recipient:    string(recipient),
		Amount:       amount,
		DocumentRef:  "ipfs://cert",
		DurationDays: 365,
	})
	require.NoError(t, err)
	return p
}

func TestPropose(t *testing.T) {
	f := newFixture(t, QuorumLive, v1, v2, v3)

	first := f.propose(t, 1000)
	second := f.propose(t, 5)

	assert.Equal(t, domain.AssetID(1), first.ID)
	assert.Equal(t, domain.AssetID(2), second.ID)
	assert.Equal(t, StatusPendingApproval, first.Status)
	assert.Equal(t, 3, first.VerifierCountAtProposal)
	assert.Equal(t, now, first.CreatedAt)
	assert.Empty(t, first.Approvals)
	assert.Len(t, f.events.OfType(audit.EventProjectProposed), 2)
}

func TestProposeErrors(t *testing.T) {
	f := newFixture(t, QuorumLive, v1)
	base := ProposeRequest{Issuer: issuer, Recipient: "grecipient", Amount: 10, DurationDays: 30}

	req := base
	req.Issuer = v1
	_, err := f.service.Propose(f.ctx, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	req = base
	req.Amount = 0
	_, err = f.service.Propose(f.ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	req = base
	req.DurationDays = 0
	_, err = f.service.Propose(f.ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	req = base
	req.Recipient = "  "
	_, err = f.service.Propose(f.ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	assert.Empty(t, f.service.List(ListFilter{}))
}

func TestApproveAndMintWithMajority(t *testing.T) {
	f := newFixture(t, QuorumLive, v1, v2, v3)
	p := f.propose(t, 1000)

	got, err := f.service.Approve(f.ctx, p.ID, v1)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, got.Status)

	got, err = f.service.Approve(f.ctx, p.ID, v2)
	require.NoError(t, err)
	assert.Equal(t, StatusConsensusReached, got.Status)
	require.NotNil(t, got.ConsensusAt)
	assert.Len(t, f.events.OfType(audit.EventConsensusReached), 1)

	minted, err := f.service.Mint(f.ctx, p.ID, v3)
	require.NoError(t, err)
	assert.True(t, minted.Minted)
	assert.Equal(t, StatusMinted, minted.Status)

	assert.Equal(t, int64(1000), f.ledger.TotalSupplyOf(p.ID))
	assert.Equal(t, int64(1000), f.ledger.BalanceOf(p.ID, recipient))

	expiry, err := f.ledger.ExpiryOf(p.ID)
	require.NoError(t, err)
	assert.Equal(t, now.Add(365*24*time.Hour), expiry)

	asset, err := f.ledger.Asset(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://cert", asset.DocumentRef)

	events := f.events.OfType(audit.EventProjectMinted)
	require.Len(t, events, 1)
	assert.Equal(t, recipient, events[0].Subject)
}

func TestMintWithoutQuorum(t *testing.T) {
	f := newFixture(t, QuorumLive, v1, v2, v3)
	p := f.propose(t, 1000)

	_, err := f.service.Approve(f.ctx, p.ID, v1)
	require.NoError(t, err)

	_, err = f.service.Mint(f.ctx, p.ID, v1)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuorum)
	assert.Zero(t, f.ledger.TotalSupplyOf(p.ID))

	got, err := f.service.Get(p.ID)
	require.NoError(t, err)
	assert.False(t, got.Minted)
}

func TestTieIsNotConsensus(t *testing.T) {
	f := newFixture(t, QuorumLive, v1, v2, v3, v4)
	p := f.propose(t, 10)

	for _, v := range []domain.Account{v1, v2} {
		_, err := f.service.Approve(f.ctx, p.ID, v)
		require.NoError(t, err)
	}

	status, err := f.service.QuorumStatus(p.ID)
	require.NoError(t, err)
	assert.False(t, status.Reached)
	assert.Equal(t, 3, status.Required)
	assert.Equal(t, 1, status.Remaining)

	_, err = f.service.Mint(f.ctx, p.ID, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientQuorum)
}

func TestApproveErrors(t *testing.T) {
	f := newFixture(t, QuorumLive, v1, v2, v3)
	p := f.propose(t, 10)

	_, err := f.service.Approve(f.ctx, p.ID, issuer)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.service.Approve(f.ctx, 99, v1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.service.Approve(f.ctx, p.ID, v1)
	require.NoError(t, err)
	_, err = f.service.Approve(f.ctx, p.ID, v1)
	assert.ErrorIs(t, err, domain.ErrDuplicateVote)

	count, err := f.service.ApprovalCount(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMintTwice(t *testing.T) {
	f := newFixture(t, QuorumLive, v1)
	p := f.propose(t, 10)

	_, err := f.service.Approve(f.ctx, p.ID, v1)
	require.NoError(t, err)
	_, err = f.service.Mint(f.ctx, p.ID, v1)
	require.NoError(t, err)

	_, err = f.service.Mint(f.ctx, p.ID, v1)
	assert.ErrorIs(t, err, domain.ErrAlreadyMinted)
	assert.Equal(t, int64(10), f.ledger.TotalSupplyOf(p.ID))

	require.NoError(t, f.registry.GrantRole(f.ctx, admin, access.RoleVerifier, v2))
	_, err = f.service.Approve(f.ctx, p.ID, v2)
	assert.ErrorIs(t, err, domain.ErrAlreadyMinted)

	_, err = f.service.Mint(f.ctx, 42, v1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLiveQuorumLostBeforeMint(t *testing.T) {
	f := newFixture(t, QuorumLive, v1, v2, v3)
	p := f.propose(t, 10)

	for _, v := range []domain.Account{v1, v2} {
		_, err := f.service.Approve(f.ctx, p.ID, v)
		require.NoError(t, err)
	}

	// two more verifiers dilute the live denominator to 5
	require.NoError(t, f.registry.GrantRole(f.ctx, admin, access.RoleVerifier, v4))
	require.NoError(t, f.registry.GrantRole(f.ctx, admin, access.RoleVerifier, "gv5"))

	_, err := f.service.Mint(f.ctx, p.ID, v1)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuorum)

	got, err := f.service.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, got.Status)
	assert.Nil(t, got.ConsensusAt)
	assert.Len(t, f.events.OfType(audit.EventConsensusLost), 1)

	// a third vote restores the majority
	_, err = f.service.Approve(f.ctx, p.ID, v3)
	require.NoError(t, err)
	_, err = f.service.Mint(f.ctx, p.ID, v1)
	require.NoError(t, err)
}

func TestApproveReconcilesLostQuorum(t *testing.T) {
	f := newFixture(t, QuorumLive, v1, v2, v3)
	p := f.propose(t, 10)

	for _, v := range []domain.Account{v1, v2} {
		_, err := f.service.Approve(f.ctx, p.ID, v)
		require.NoError(t, err)
	}

	// four more verifiers raise the live denominator to 7
	for _, v := range []domain.Account{v4, "gv5", "gv6", "gv7"} {
		require.NoError(t, f.registry.GrantRole(f.ctx, admin, access.RoleVerifier, v))
	}

	got, err := f.service.Approve(f.ctx, p.ID, v3)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, got.Status)
	assert.Nil(t, got.ConsensusAt)

	status, err := f.service.QuorumStatus(p.ID)
	require.NoError(t, err)
	assert.False(t, status.Reached)
	assert.Equal(t, 1, status.Remaining)
	assert.Len(t, f.events.OfType(audit.EventConsensusLost), 1)

	got, err = f.service.Approve(f.ctx, p.ID, v4)
	require.NoError(t, err)
	assert.Equal(t, StatusConsensusReached, got.Status)
	assert.Len(t, f.events.OfType(audit.EventConsensusReached), 2)
}

func TestSnapshotQuorumIgnoresLaterVerifiers(t *testing.T) {
	f := newFixture(t, QuorumSnapshot, v1, v2, v3)
	p := f.propose(t, 10)

	for _, v := range []domain.Account{v1, v2} {
		_, err := f.service.Approve(f.ctx, p.ID, v)
		require.NoError(t, err)
	}
	require.NoError(t, f.registry.GrantRole(f.ctx, admin, access.RoleVerifier, v4))
	require.NoError(t, f.registry.GrantRole(f.ctx, admin, access.RoleVerifier, "gv5"))

	status, err := f.service.QuorumStatus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, QuorumSnapshot, status.Policy)
	assert.Equal(t, 3, status.Denominator)
	assert.True(t, status.Reached)

	_, err = f.service.Mint(f.ctx, p.ID, v1)
	require.NoError(t, err)
}

func TestNoVerifiersNeverReachQuorum(t *testing.T) {
	f := newFixture(t, QuorumLive, v1)
	p := f.propose(t, 10)

	_, err := f.service.Approve(f.ctx, p.ID, v1)
	require.NoError(t, err)
	require.NoError(t, f.registry.RevokeRole(f.ctx, admin, access.RoleVerifier, v1))

	_, err = f.service.Mint(f.ctx, p.ID, v1)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuorum)
}

func TestMintLedgerFailureLeavesProjectUnminted(t *testing.T) {
	rec := audit.NewRecorder()
	registry, err := access.NewRegistry(admin, rec, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, registry.GrantRole(ctx, admin, access.RoleIssuer, issuer))
	require.NoError(t, registry.GrantRole(ctx, admin, access.RoleVerifier, v1))

	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, domain.AssetID(1), recipient, int64(10), now.Add(24*time.Hour), "ipfs://x").
		Return(fmt.Errorf("asset 1: %w", domain.ErrAlreadyExists)).Once()

	svc := NewService(registry, minter, Options{Clock: clock}, rec, zap.NewNop())
	p, err := svc.Propose(ctx, ProposeRequest{Issuer: issuer, Recipient: "grecipient", Amount: 10, DocumentRef: "ipfs://x", DurationDays: 1})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, p.ID, v1)
	require.NoError(t, err)

	_, err = svc.Mint(ctx, p.ID, v1)
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	assert.False(t, got.Minted)
	assert.Equal(t, StatusConsensusReached, got.Status)
	assert.Empty(t, rec.OfType(audit.EventProjectMinted))
	minter.AssertExpectations(t)
}

func TestFailedMintFromPendingChangesNothing(t *testing.T) {
	rec := audit.NewRecorder()
	registry, err := access.NewRegistry(admin, rec, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, registry.GrantRole(ctx, admin, access.RoleIssuer, issuer))
	for _, v := range []domain.Account{v1, v2, v3} {
		require.NoError(t, registry.GrantRole(ctx, admin, access.RoleVerifier, v))
	}

	minter := new(MockMinter)
	minter.On("Mint", mock.Anything, domain.AssetID(1), recipient, int64(10), now.Add(24*time.Hour), "ipfs://x").
		Return(errors.New("ledger unavailable")).Once()

	svc := NewService(registry, minter, Options{Clock: clock}, rec, zap.NewNop())
	p, err := svc.Propose(ctx, ProposeRequest{Issuer: issuer, Recipient: "grecipient", Amount: 10, DocumentRef: "ipfs://x", DurationDays: 1})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, p.ID, v1)
	require.NoError(t, err)

	// shrinking the live denominator gives the single vote a majority
	require.NoError(t, registry.RevokeRole(ctx, admin, access.RoleVerifier, v2))
	require.NoError(t, registry.RevokeRole(ctx, admin, access.RoleVerifier, v3))

	_, err = svc.Mint(ctx, p.ID, v1)
	require.Error(t, err)

	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	assert.False(t, got.Minted)
	assert.Equal(t, StatusPendingApproval, got.Status)
	assert.Nil(t, got.ConsensusAt)
	assert.Empty(t, rec.OfType(audit.EventConsensusReached))
	assert.Empty(t, rec.OfType(audit.EventProjectMinted))
	minter.AssertExpectations(t)
}

func TestConcurrentApproveAndMint(t *testing.T) {
	const callers = 50
	f := newFixture(t, QuorumLive, v1)
	p := f.propose(t, 100)

	var approved, duplicates atomic.Int32
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := f.service.Approve(f.ctx, p.ID, v1)
			switch {
			case err == nil:
				approved.Add(1)
			case errors.Is(err, domain.ErrDuplicateVote):
				duplicates.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), approved.Load())
	assert.Equal(t, int32(callers-1), duplicates.Load())

	var minted, already atomic.Int32
	var mg errgroup.Group
	for i := 0; i < callers; i++ {
		mg.Go(func() error {
			_, err := f.service.Mint(f.ctx, p.ID, issuer)
			switch {
			case err == nil:
				minted.Add(1)
			case errors.Is(err, domain.ErrAlreadyMinted):
				already.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, mg.Wait())
	assert.Equal(t, int32(1), minted.Load())
	assert.Equal(t, int32(callers-1), already.Load())

	assert.Equal(t, int64(100), f.ledger.TotalSupplyOf(p.ID))
	assert.Equal(t, int64(100), f.ledger.BalanceOf(p.ID, recipient))
	assert.Len(t, f.events.OfType(audit.EventProjectMinted), 1)
	assert.Len(t, f.events.OfType(audit.EventProjectApproved), 1)
}

func TestList(t *testing.T) {
	f := newFixture(t, QuorumLive, v1, v2, v3)
	require.NoError(t, f.registry.GrantRole(f.ctx, admin, access.RoleIssuer, "gother"))

	a := f.propose(t, 10)
	b := f.propose(t, 20)
	_, err := f.service.Propose(f.ctx, ProposeRequest{Issuer: "gother", Recipient: "gx", Amount: 1, DurationDays: 1})
	require.NoError(t, err)

	for _, v := range []domain.Account{v1, v2} {
		_, err := f.service.Approve(f.ctx, b.ID, v)
		require.NoError(t, err)
	}
	_, err = f.service.Approve(f.ctx, a.ID, v3)
	require.NoError(t, err)

	assert.Len(t, f.service.List(ListFilter{}), 3)
	assert.Len(t, f.service.List(ListFilter{Issuer: issuer}), 2)

	reached := f.service.List(ListFilter{Status: StatusConsensusReached})
	require.Len(t, reached, 1)
	assert.Equal(t, b.ID, reached[0].ID)

	voted := f.service.List(ListFilter{Voter: v3})
	require.Len(t, voted, 1)
	assert.Equal(t, a.ID, voted[0].ID)
}

func TestProjectStateMachine(t *testing.T) {
	sm := NewStateMachine()

	assert.True(t, sm.CanTransition(string(StatusPendingApproval), string(StatusConsensusReached)))
	assert.True(t, sm.CanTransition(string(StatusConsensusReached), string(StatusMinted)))
	assert.True(t, sm.CanTransition(string(StatusConsensusReached), string(StatusPendingApproval)))
	assert.False(t, sm.CanTransition(string(StatusPendingApproval), string(StatusMinted)))
	assert.True(t, sm.IsTerminal(string(StatusMinted)))
}

func TestParsers(t *testing.T) {
	p, err := ParseQuorumPolicy("")
	require.NoError(t, err)
	assert.Equal(t, QuorumLive, p)

	p, err = ParseQuorumPolicy("Snapshot")
	require.NoError(t, err)
	assert.Equal(t, QuorumSnapshot, p)

	_, err = ParseQuorumPolicy("weighted")
	assert.Error(t, err)

	st, err := ParseStatus("minted")
	require.NoError(t, err)
	assert.Equal(t, StatusMinted, st)
}
