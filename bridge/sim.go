package bridge

import (
	"context"
	"fmt"
	"strings"
)

// SimCard describes one sending identity.
type SimCard struct {
	Slot        int    `json:"simSlot"`
	CarrierName string `json:"carrierName"`
	DisplayName string `json:"displayName"`
	IccID       string `json:"iccId"`
}

// DefaultSim is reported when no identities are configured.
var DefaultSim = SimCard{Slot: 0, CarrierName: "Default", DisplayName: "Default SIM"}

// SimProvider lists the available sending identities.
type SimProvider interface {
	SimCards(ctx context.Context) ([]SimCard, error)
}

// StaticSims is a fixed SimProvider.
type StaticSims []SimCard

// SimCards returns a copy of s.
func (s StaticSims) SimCards(context.Context) ([]SimCard, error) {
	return append([]SimCard(nil), s...), nil
}

// ParseSimCards parses "carrier/display/iccid;..." as configured in
// SMSBRIDGE_SIM_CARDS. Slots follow list order; missing display names become
// "SIM <n>".
func ParseSimCards(raw string) (StaticSims, error) {
	var cards StaticSims
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "/")
		if len(parts) > 3 {
			return nil, fmt.Errorf("sim card %q: expected carrier/display/iccid", entry)
		}
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		slot := len(cards)
		card := SimCard{
			Slot:        slot,
			CarrierName: strings.TrimSpace(parts[0]),
			DisplayName: strings.TrimSpace(parts[1]),
			IccID:       strings.TrimSpace(parts[2]),
		}
		if card.CarrierName == "" {
			card.CarrierName = "Unknown"
		}
		if card.DisplayName == "" {
			card.DisplayName = fmt.Sprintf("SIM %d", slot+1)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// Gate decides whether sending is currently permitted.
type Gate interface {
	Permitted(ctx context.Context) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context) bool

// Permitted calls f.
func (f GateFunc) Permitted(ctx context.Context) bool { return f(ctx) }

// StaticGate returns a Gate that answers allowed for every request.
func StaticGate(allowed bool) Gate {
	return GateFunc(func(context.Context) bool { return allowed })
}
