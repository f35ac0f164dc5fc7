package certification

import (
	"fmt"
	"strings"
	"time"

	"carbon-scribe/vericarbon-engine/internal/domain"
)

// Status is the certification state of a project.
type Status string

const (
	StatusPendingApproval  Status = "PENDING_APPROVAL"
	StatusConsensusReached Status = "CONSENSUS_REACHED"
	StatusMinted           Status = "MINTED"
)

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPendingApproval, StatusConsensusReached, StatusMinted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown project status %q", s)
	}
}

// QuorumPolicy selects the verifier count used as the quorum denominator.
type QuorumPolicy string

const (
	// QuorumLive counts verifiers at the time of each vote and mint.
	QuorumLive QuorumPolicy = "live"
	// QuorumSnapshot uses the verifier count captured at proposal time.
	QuorumSnapshot QuorumPolicy = "snapshot"
)

// ParseQuorumPolicy parses a policy name; empty means live.
func ParseQuorumPolicy(s string) (QuorumPolicy, error) {
	switch p := QuorumPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return QuorumLive, nil
	case QuorumLive, QuorumSnapshot:
		return p, nil
	default:
		return "", fmt.Errorf("unknown quorum policy %q", s)
	}
}

// MaxDurationDays bounds the validity period so expiry arithmetic stays in range.
const MaxDurationDays = 100 * 365

// Project is a certification request and its voting record.
type Project struct {
	ID                      domain.AssetID   `json:"id"`
	Issuer                  domain.Account   `json:"issuer"`
	Recipient               domain.Account   `json:"recipient"`
	RequestedAmount         int64            `json:"requested_amount"`
	DocumentRef             string           `json:"document_ref"`
	ValidityDurationDays    int64            `json:"validity_duration_days"`
	Approvals               []domain.Account `json:"approvals"`
	Minted                  bool             `json:"minted"`
	Status                  Status           `json:"status"`
	VerifierCountAtProposal int              `json:"verifier_count_at_proposal"`
	CreatedAt               time.Time        `json:"created_at"`
	ConsensusAt             *time.Time       `json:"consensus_at,omitempty"`
	MintedAt                *time.Time       `json:"minted_at,omitempty"`
	Expiry                  *time.Time       `json:"expiry,omitempty"`
}

func (p *Project) clone() *Project {
	cp := *p
	cp.Approvals = append([]domain.Account{}, p.Approvals...)
	return &cp
}

func (p *Project) hasVoted(verifier domain.Account) bool {
	for _, v := range p.Approvals {
		if v == verifier {
			return true
		}
	}
	return false
}

// ProposeRequest carries the fields of a new proposal.
type ProposeRequest struct {
	Issuer       domain.Account `json:"-"`
	Recipient    string         `json:"recipient" binding:"required"`
	Amount       int64          `json:"amount"`
	DocumentRef  string         `json:"document_ref"`
	DurationDays int64          `json:"duration_days"`
}

// ListFilter narrows List results. Zero fields match everything.
type ListFilter struct {
	Issuer domain.Account
	Status Status
	Voter  domain.Account
}

func (f ListFilter) matches(p *Project) bool {
	if !f.Issuer.IsZero() && p.Issuer != f.Issuer {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if !f.Voter.IsZero() && !p.hasVoted(f.Voter) {
		return false
	}
	return true
}

// QuorumStatus reports voting progress of one project.
type QuorumStatus struct {
	ProjectID   domain.AssetID `json:"project_id"`
	Policy      QuorumPolicy   `json:"policy"`
	Approvals   int            `json:"approvals"`
	Denominator int            `json:"denominator"`
	Required    int            `json:"required"`
	Remaining   int            `json:"remaining"`
	Reached     bool           `json:"reached"`
}

// quorumOf applies the strict-majority rule. An empty verifier set never
// reaches quorum.
func quorumOf(approvals, denominator int) (required int, reached bool) {
	return denominator/2 + 1, denominator > 0 && approvals*2 > denominator
}
