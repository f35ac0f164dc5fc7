package audit

import (
	"time"

	"github.com/google/uuid"

	"carbon-scribe/vericarbon-engine/internal/domain"
)

// EventType names a successful engine mutation.
type EventType string

const (
	EventRoleGranted        EventType = "role.granted"
	EventRoleRevoked        EventType = "role.revoked"
	EventAdminRenounced     EventType = "role.renounced"
	EventProjectProposed    EventType = "project.proposed"
	EventProjectApproved    EventType = "project.approved"
	EventConsensusReached   EventType = "project.consensus_reached"
	EventConsensusLost      EventType = "project.consensus_lost"
	EventProjectMinted      EventType = "project.minted"
	EventCreditsTransferred EventType = "credits.transferred"
	EventCreditsRetired     EventType = "credits.retired"
	EventStableDeposited    EventType = "stable.deposited"
	EventLiquidityAdded     EventType = "market.liquidity_added"
	EventSwapExecuted       EventType = "market.swap_executed"
	EventAssetExpired       EventType = "asset.expired"
)

// Event is the observation record of one committed mutation.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	Actor      domain.Account `json:"actor,omitempty"`
	Subject    domain.Account `json:"subject,omitempty"`
	AssetID    domain.AssetID `json:"asset_id,omitempty"`
	Amount     int64          `json:"amount,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t EventType, actor domain.Account) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher receives committed mutations. Publish must not block and must
// never influence the outcome of the mutation that produced the event.
type Publisher interface {
	Publish(ev Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
