// Package otp abstracts one-time-code delivery. The auth core depends only
// on the two-method Gateway; the Twilio Verify adapter and the local
// simulator are interchangeable behind it.
package otp

import (
	"context"
	"fmt"
	"strings"

	"github.com/pinmap/pinmap/internal/models"
)

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// ParseChannel normalizes a request-supplied channel, defaulting to SMS.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ChannelSMS, nil
	case ChannelSMS:
		return ChannelSMS, nil
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	default:
		return "", fmt.Errorf("channel %q: %w", s, models.ErrUnsupportedChannel)
	}
}

type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
)

// Gateway sends and checks verification codes for a phone number. Check must
// return StatusApproved exactly once per delivered code; any other outcome
// that is not a provider failure is StatusPending.
type Gateway interface {
	Send(ctx context.Context, phone string, channel Channel) error
	Check(ctx context.Context, phone, code string, channel Channel) (Status, error)
}
