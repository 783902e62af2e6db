package bot_test

import (
	"encoding/json"
	"testing"

	"github.com/jensholdgaard/auction-console/internal/bot"
	"github.com/jensholdgaard/auction-console/internal/realtime"
)

func envelope(t *testing.T, event string, payload any) realtime.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return realtime.Envelope{ID: "m1", Event: event, Payload: data}
}

func TestAnnouncement(t *testing.T) {
	tests := []struct {
		name   string
		env    realtime.Envelope
		want   string
		wantOK bool
	}{
		{
			name:   "next player",
			env:    envelope(t, realtime.EventNextPlayer, realtime.NextPlayerPayload{PlayerIndex: 3, PlayerName: "Bumrah"}),
			want:   "Up for bidding: **Bumrah**",
			wantOK: true,
		},
		{
			name:   "player sold",
			env:    envelope(t, realtime.EventPlayerSold, realtime.PlayerSoldPayload{PlayerName: "Rohit", Team: "Gabbar XI", Amount: 4500}),
			want:   "**Rohit** sold to **Gabbar XI** for **₹4500**",
			wantOK: true,
		},
		{
			name:   "captain assigned",
			env:    envelope(t, realtime.EventCaptainAssigned, realtime.CaptainAssignedPayload{TeamName: "Thakur XI", PlayerName: "Virat"}),
			want:   "**Virat** is the captain of **Thakur XI**",
			wantOK: true,
		},
		{
			name: "bid updates are not announced",
			env:  envelope(t, realtime.EventBidUpdate, map[string]any{"newBid": 500, "bidder": "Thakur XI"}),
		},
		{
			name: "malformed payload",
			env:  realtime.Envelope{Event: realtime.EventPlayerSold, Payload: json.RawMessage(`{"amount":"lots"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := bot.Announcement(tt.env)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Announcement() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
