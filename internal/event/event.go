package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	BidPlaced Type = "bid.placed"
	BidReset  Type = "bid.reset"
	LotOpened Type = "lot.opened"

	PlayerSold Type = "player.sold"

	CaptainAssigned Type = "captain.assigned"
	CaptainRemoved  Type = "captain.removed"

	AuctionReset Type = "auction.reset"
)

// AuctionAggregate is the aggregate id of events that belong to the auction
// as a whole rather than to one team.
const AuctionAggregate = "auction"

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New builds an event with a JSON payload. A zero Version lets the store
// assign the next version of the aggregate.
func New(aggregateID string, typ Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return Event{AggregateID: aggregateID, Type: typ, Data: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	Team        string `json:"team"`
	PlayerIndex int    `json:"player_index"`
	Amount      int    `json:"amount"`
}

// BidResetData is the payload for BidReset events: the bid that was cleared.
type BidResetData struct {
	PlayerIndex int    `json:"player_index"`
	Amount      int    `json:"amount"`
	Bidder      string `json:"bidder"`
	ResetBy     string `json:"reset_by"`
}

// LotOpenedData is the payload for LotOpened events.
type LotOpenedData struct {
	PlayerID    int    `json:"player_id"`
	PlayerName  string `json:"player_name"`
	PlayerIndex int    `json:"player_index"`
}

// PlayerSoldData is the payload for PlayerSold events.
type PlayerSoldData struct {
	PlayerID   int    `json:"player_id"`
	PlayerName string `json:"player_name"`
	Team       string `json:"team"`
	Amount     int    `json:"amount"`
	PurseAfter int    `json:"purse_after"`
}

// CaptainData is the payload for CaptainAssigned and CaptainRemoved events.
type CaptainData struct {
	PlayerID   int    `json:"player_id"`
	PlayerName string `json:"player_name"`
	Team       string `json:"team"`
}

// AuctionResetData is the payload for AuctionReset events.
type AuctionResetData struct {
	StartingPurse int    `json:"starting_purse"`
	ResetBy       string `json:"reset_by"`
}
