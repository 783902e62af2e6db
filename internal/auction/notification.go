package auction

import (
	"encoding/json"
	"fmt"
)

// Kind tags an inbound notification.
type Kind string

const (
	// KindStateChanged is a row-level change of the auction record.
	KindStateChanged Kind = "state_changed"
	// KindBidUpdate is an explicit bid_update broadcast.
	KindBidUpdate Kind = "bid_update"
)

// Notification is a validated inbound message. Exactly one of State or Bid
// is meaningful, selected by Kind.
type Notification struct {
	Kind  Kind
	State State
	Bid   BidUpdate
}

type stateChangePayload struct {
	ActivePlayerIndex *int    `json:"active_player_index"`
	CurrentBid        *int    `json:"current_bid"`
	LastBidder        *string `json:"last_bidder"`
}

type bidUpdatePayload struct {
	NewBid *int    `json:"newBid"`
	Bidder *string `json:"bidder"`
}

// DecodeNotification parses and validates a raw payload of the given kind.
// A null current_bid or last_bidder is read as zero or empty, matching how
// the record is reset; every other missing field is an error.
func DecodeNotification(kind Kind, payload []byte) (Notification, error) {
	switch kind {
	case KindStateChanged:
		s, err := DecodeStateChange(payload)
		if err != nil {
			return Notification{}, err
		}
		return Notification{Kind: kind, State: s}, nil
	case KindBidUpdate:
		b, err := DecodeBidUpdate(payload)
		if err != nil {
			return Notification{}, err
		}
		return Notification{Kind: kind, Bid: b}, nil
	default:
		return Notification{}, fmt.Errorf("unknown notification kind %q", kind)
	}
}

// DecodeStateChange parses a row-change payload of the auction record.
func DecodeStateChange(payload []byte) (State, error) {
	var p stateChangePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return State{}, fmt.Errorf("decoding state change: %w", err)
	}
	if p.ActivePlayerIndex == nil {
		return State{}, fmt.Errorf("state change missing active_player_index")
	}
	s := State{ActivePlayerIndex: *p.ActivePlayerIndex}
	if p.CurrentBid != nil {
		s.CurrentBid = *p.CurrentBid
	}
	if p.LastBidder != nil {
		s.LastBidder = *p.LastBidder
	}
	if err := s.Validate(); err != nil {
		return State{}, fmt.Errorf("invalid state change: %w", err)
	}
	return s, nil
}

// DecodeBidUpdate parses a bid_update broadcast payload.
func DecodeBidUpdate(payload []byte) (BidUpdate, error) {
	var p bidUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return BidUpdate{}, fmt.Errorf("decoding bid update: %w", err)
	}
	if p.NewBid == nil || p.Bidder == nil {
		return BidUpdate{}, fmt.Errorf("bid update missing newBid or bidder")
	}
	if *p.NewBid <= 0 || *p.Bidder == "" {
		return BidUpdate{}, fmt.Errorf("invalid bid update %d by %q", *p.NewBid, *p.Bidder)
	}
	return BidUpdate{NewBid: *p.NewBid, Bidder: *p.Bidder}, nil
}
