package otp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	verify "github.com/twilio/twilio-go/rest/verify/v2"

	"github.com/pinmap/pinmap/internal/config"
	"github.com/pinmap/pinmap/internal/models"
)

// TwilioGateway delivers codes through Twilio Verify. All provider failures
// are normalized to models.ErrProvider; Twilio's error shapes never leave
// this adapter.
type TwilioGateway struct {
	client    *twilio.RestClient
	verifySID string
	logger    *logrus.Logger
}

func NewTwilioGateway(cfg *config.OTPConfig, logger *logrus.Logger) *TwilioGateway {
	base := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(cfg.TwilioAccountSID, cfg.TwilioAuthToken),
	}
	// Bounded request timeout so a stalled provider surfaces as ErrProvider
	// instead of hanging the caller.
	base.SetTimeout(cfg.RequestTimeout)

	return &TwilioGateway{
		client:    twilio.NewRestClientWithParams(twilio.ClientParams{Client: base}),
		verifySID: cfg.TwilioVerifySID,
		logger:    logger,
	}
}

func (g *TwilioGateway) Send(ctx context.Context, phone string, channel Channel) error {
	if _, err := ParseChannel(string(channel)); err != nil {
		return err
	}

	params := &verify.CreateVerificationParams{}
	params.SetTo(phone)
	params.SetChannel(string(channel))

	resp, err := g.client.VerifyV2.CreateVerification(g.verifySID, params)
	if err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"phone":   phone,
			"channel": channel,
		}).Error("Twilio verification create failed")
		return fmt.Errorf("%w: %v", models.ErrProvider, err)
	}

	status := ""
	if resp.Status != nil {
		status = *resp.Status
	}
	g.logger.WithFields(logrus.Fields{
		"channel": channel,
		"status":  status,
	}).Info("Twilio verification created")

	return nil
}

func (g *TwilioGateway) Check(ctx context.Context, phone, code string, channel Channel) (Status, error) {
	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phone)
	params.SetCode(code)

	resp, err := g.client.VerifyV2.CreateVerificationCheck(g.verifySID, params)
	if err != nil {
		g.logger.WithError(err).WithField("channel", channel).Error("Twilio verification check failed")
		return "", fmt.Errorf("%w: %v", models.ErrProvider, err)
	}

	if resp.Status != nil && *resp.Status == string(StatusApproved) {
		return StatusApproved, nil
	}
	return StatusPending, nil
}
