package certification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/access"
	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/pkg/workflows"
)

// RoleChecker is the part of the access registry the workflow depends on.
type RoleChecker interface {
	HasRole(role access.Role, account domain.Account) bool
	CountOf(role access.Role) int
}

// Minter issues credits once a project is certified.
type Minter interface {
	Mint(ctx context.Context, id domain.AssetID, holder domain.Account, amount int64, expiry time.Time, documentRef string) error
}

// Options configures the workflow.
type Options struct {
	Policy QuorumPolicy
	Clock  domain.Clock
}

type projectEntry struct {
	mu      sync.Mutex
	project *Project
}

// Service runs the certification workflow. Each project is guarded by its own
// mutex, taken before any ledger lock.
type Service struct {
	roles  RoleChecker
	ledger Minter

	mu       sync.RWMutex
	projects map[domain.AssetID]*projectEntry
	nextID   domain.AssetID

	states    *workflows.StateMachine
	policy    QuorumPolicy
	clock     domain.Clock
	publisher audit.Publisher
	logger    *zap.Logger
}

// NewStateMachine returns the project status transitions. A project whose
// live quorum was lost goes back to pending approval.
func NewStateMachine() *workflows.StateMachine {
	return workflows.NewStateMachine(map[string][]string{
		string(StatusPendingApproval):  {string(StatusConsensusReached)},
		string(StatusConsensusReached): {string(StatusMinted), string(StatusPendingApproval)},
		string(StatusMinted):           {},
	})
}

// NewService creates a new certification service
func NewService(roles RoleChecker, ledger Minter, opts Options, publisher audit.Publisher, logger *zap.Logger) *Service {
	if opts.Policy == "" {
		opts.Policy = QuorumLive
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock
	}
	if publisher == nil {
		publisher = audit.Discard
	}
	return &Service{
		roles:     roles,
		ledger:    ledger,
		projects:  make(map[domain.AssetID]*projectEntry),
		nextID:    1,
		states:    NewStateMachine(),
		policy:    opts.Policy,
		clock:     opts.Clock,
		publisher: publisher,
		logger:    logger,
	}
}

// Policy returns the quorum denominator policy in force.
func (s *Service) Policy() QuorumPolicy { return s.policy }

// Propose records a new project awaiting verifier approval.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*Project, error) {
	if !s.roles.HasRole(access.RoleIssuer, req.Issuer) {
		return nil, fmt.Errorf("propose: %q is not an issuer: %w", req.Issuer, domain.ErrUnauthorized)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("requested amount %d: %w", req.Amount, domain.ErrInvalidAmount)
	}
	if req.DurationDays <= 0 || req.DurationDays > MaxDurationDays {
		return nil, fmt.Errorf("validity duration %d days: %w", req.DurationDays, domain.ErrInvalidAmount)
	}
	recipient := domain.NewAccount(req.Recipient)
	if recipient.IsZero() {
		return nil, fmt.Errorf("propose recipient: %w", domain.ErrInvalidAccount)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	project := &Project{
		ID:                      id,
		Issuer:                  req.Issuer,
		Recipient:               recipient,
		RequestedAmount:         req.Amount,
		DocumentRef:             req.DocumentRef,
		ValidityDurationDays:    req.DurationDays,
		Approvals:               []domain.Account{},
		Status:                  StatusPendingApproval,
		VerifierCountAtProposal: s.roles.CountOf(access.RoleVerifier),
		CreatedAt:               s.clock(),
	}
	s.projects[id] = &projectEntry{project: project}
	out := project.clone()
	s.mu.Unlock()

	ev := audit.NewEvent(audit.EventProjectProposed, req.Issuer)
	ev.Subject = recipient
	ev.AssetID = id
	ev.Amount = req.Amount
	ev.Data = map[string]any{
		"document_ref":  req.DocumentRef,
		"duration_days": req.DurationDays,
	}
	s.publisher.Publish(ev)

	s.logger.Info("Project proposed",
		zap.Uint64("project_id", uint64(id)),
		zap.String("issuer", req.Issuer.String()),
		zap.String("recipient", recipient.String()),
		zap.Int64("amount", req.Amount))

	return out, nil
}

// Approve records verifier's vote on a project.
func (s *Service) Approve(ctx context.Context, id domain.AssetID, verifier domain.Account) (*Project, error) {
	if !s.roles.HasRole(access.RoleVerifier, verifier) {
		return nil, fmt.Errorf("approve: %q is not a verifier: %w", verifier, domain.ErrUnauthorized)
	}

	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	p := entry.project

	if p.Minted {
		return nil, fmt.Errorf("project %d: %w", id, domain.ErrAlreadyMinted)
	}
	if p.hasVoted(verifier) {
		return nil, fmt.Errorf("project %d, verifier %q: %w", id, verifier, domain.ErrDuplicateVote)
	}

	p.Approvals = append(p.Approvals, verifier)

	ev := audit.NewEvent(audit.EventProjectApproved, verifier)
	ev.AssetID = id
	ev.Data = map[string]any{"approvals": len(p.Approvals)}
	s.publisher.Publish(ev)

	s.logger.Info("Project approved",
		zap.Uint64("project_id", uint64(id)),
		zap.String("verifier", verifier.String()),
		zap.Int("approvals", len(p.Approvals)))

	// under the live policy new verifiers can dilute an earlier majority
	status := s.quorum(p)
	switch {
	case status.Reached && p.Status == StatusPendingApproval:
		s.markConsensus(p, status)
	case !status.Reached && p.Status == StatusConsensusReached:
		s.markConsensusLost(p, status)
	}

	return p.clone(), nil
}

// Mint issues the requested credits to the recipient once quorum holds. The
// quorum is evaluated again at call time. Anyone may call it.
func (s *Service) Mint(ctx context.Context, id domain.AssetID, caller domain.Account) (*Project, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	p := entry.project

	if p.Minted {
		return nil, fmt.Errorf("project %d: %w", id, domain.ErrAlreadyMinted)
	}

	status := s.quorum(p)
	if !status.Reached {
		if p.Status == StatusConsensusReached {
			s.markConsensusLost(p, status)
		}
		return nil, fmt.Errorf("project %d has %d of %d required approvals: %w",
			id, status.Approvals, status.Required, domain.ErrInsufficientQuorum)
	}
	from := p.Status
	if from == StatusPendingApproval {
		if err := s.states.Transition(string(from), string(StatusConsensusReached)); err != nil {
			return nil, fmt.Errorf("project %d: %w", id, err)
		}
		from = StatusConsensusReached
	}
	if err := s.states.Transition(string(from), string(StatusMinted)); err != nil {
		return nil, fmt.Errorf("project %d: %w", id, err)
	}

	now := s.clock()
	expiry := now.Add(time.Duration(p.ValidityDurationDays) * 24 * time.Hour)
	if err := s.ledger.Mint(ctx, id, p.Recipient, p.RequestedAmount, expiry, p.DocumentRef); err != nil {
		return nil, fmt.Errorf("mint project %d: %w", id, err)
	}

	if p.Status == StatusPendingApproval {
		s.markConsensus(p, status)
	}
	p.Minted = true
	p.Status = StatusMinted
	p.MintedAt = &now
	p.Expiry = &expiry

	ev := audit.NewEvent(audit.EventProjectMinted, caller)
	ev.Subject = p.Recipient
	ev.AssetID = id
	ev.Amount = p.RequestedAmount
	ev.Data = map[string]any{
		"expiry":       expiry,
		"document_ref": p.DocumentRef,
		"approvals":    status.Approvals,
		"denominator":  status.Denominator,
	}
	s.publisher.Publish(ev)

	s.logger.Info("Project minted",
		zap.Uint64("project_id", uint64(id)),
		zap.String("recipient", p.Recipient.String()),
		zap.Int64("amount", p.RequestedAmount),
		zap.Time("expiry", expiry))

	return p.clone(), nil
}

// Get returns a copy of a project.
func (s *Service) Get(id domain.AssetID) (*Project, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.project.clone(), nil
}

// List returns the projects matching filter ordered by id.
func (s *Service) List(filter ListFilter) []*Project {
	s.mu.RLock()
	entries := make([]*projectEntry, 0, len(s.projects))
	for _, e := range s.projects {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := []*Project{}
	for _, e := range entries {
		e.mu.Lock()
		if filter.matches(e.project) {
			out = append(out, e.project.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApprovalCount returns the number of votes recorded on a project.
func (s *Service) ApprovalCount(id domain.AssetID) (int, error) {
	entry, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.project.Approvals), nil
}

// QuorumStatus reports the voting progress of a project under the current policy.
func (s *Service) QuorumStatus(id domain.AssetID) (QuorumStatus, error) {
	entry, err := s.entry(id)
	if err != nil {
		return QuorumStatus{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return s.quorum(entry.project), nil
}

func (s *Service) entry(id domain.AssetID) (*projectEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %d: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (s *Service) quorum(p *Project) QuorumStatus {
	denominator := p.VerifierCountAtProposal
	if s.policy == QuorumLive {
		denominator = s.roles.CountOf(access.RoleVerifier)
	}

	approvals := len(p.Approvals)
	required, reached := quorumOf(approvals, denominator)
	remaining := required - approvals
	if remaining < 0 || reached {
		remaining = 0
	}

	return QuorumStatus{
		ProjectID:   p.ID,
		Policy:      s.policy,
		Approvals:   approvals,
		Denominator: denominator,
		Required:    required,
		Remaining:   remaining,
		Reached:     reached,
	}
}

func (s *Service) markConsensus(p *Project, status QuorumStatus) {
	if err := s.states.Transition(string(p.Status), string(StatusConsensusReached)); err != nil {
		s.logger.Error("Unexpected project transition", zap.Uint64("project_id", uint64(p.ID)), zap.Error(err))
		return
	}

	now := s.clock()
	p.Status = StatusConsensusReached
	p.ConsensusAt = &now

	ev := audit.NewEvent(audit.EventConsensusReached, "")
	ev.AssetID = p.ID
	ev.Data = map[string]any{"approvals": status.Approvals, "denominator": status.Denominator}
	s.publisher.Publish(ev)

	s.logger.Info("Project consensus reached",
		zap.Uint64("project_id", uint64(p.ID)),
		zap.Int("approvals", status.Approvals),
		zap.Int("denominator", status.Denominator))
}

func (s *Service) markConsensusLost(p *Project, status QuorumStatus) {
	if err := s.states.Transition(string(p.Status), string(StatusPendingApproval)); err != nil {
		s.logger.Error("Unexpected project transition", zap.Uint64("project_id", uint64(p.ID)), zap.Error(err))
		return
	}

	p.Status = StatusPendingApproval
	p.ConsensusAt = nil

	ev := audit.NewEvent(audit.EventConsensusLost, "")
	ev.AssetID = p.ID
	ev.Data = map[string]any{"approvals": status.Approvals, "denominator": status.Denominator}
	s.publisher.Publish(ev)

	s.logger.Warn("Project consensus lost",
		zap.Uint64("project_id", uint64(p.ID)),
		zap.Int("approvals", status.Approvals),
		zap.Int("denominator", status.Denominator))
}
