// Package twilio implements the telephony provider contract on Twilio's
// REST API for origination and TwiML for webhook responses.
package twilio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/carelink/voicegate/pkg/core"
)

var errMissingSid = errors.New("create call response missing sid")

// Config holds the Twilio account and webhook endpoints.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// VoiceURL answers the call with initial markup; StatusURL receives
	// lifecycle callbacks. Both must be publicly reachable.
	VoiceURL  string
	StatusURL string
}

// Provider implements telephony.Provider.
type Provider struct {
	client *twilio.RestClient
	cfg    Config
	logger *slog.Logger
}

func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Provider{client: client, cfg: cfg, logger: logger}
}

// OriginateCall dials toNumber. Status callbacks are requested for every
// lifecycle transition so the call record tracks the provider closely.
func (p *Provider) OriginateCall(ctx context.Context, toNumber string, metadata map[string]string) (string, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(p.cfg.FromNumber)
	params.SetUrl(p.cfg.VoiceURL)
	params.SetStatusCallback(p.cfg.StatusURL)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return "", core.NewProviderError("twilio", err)
	}
	if resp.Sid == nil || *resp.Sid == "" {
		return "", core.NewProviderError("twilio", errMissingSid)
	}
	p.logger.Info("originated call", "provider_call_id", *resp.Sid, "to", toNumber)
	return *resp.Sid, nil
}

func (p *Provider) SayAndGather(text, actionURL string) (string, error) {
	say := &twiml.VoiceSay{Message: text}
	gather := &twiml.VoiceGather{
		Input:         "speech",
		Action:        actionURL,
		Method:        "POST",
		SpeechTimeout: "auto",
	}
	// A caller who stays silent falls through the gather; redirecting back
	// to the voice URL re-prompts instead of dropping the call.
	redirect := &twiml.VoiceRedirect{Url: actionURL}
	markup, err := twiml.Voice([]twiml.Element{say, gather, redirect})
	if err != nil {
		return "", core.NewAPIError("render gather markup: " + err.Error())
	}
	return markup, nil
}

func (p *Provider) SayAndHangup(text string) (string, error) {
	say := &twiml.VoiceSay{Message: text}
	hangup := &twiml.VoiceHangup{}
	markup, err := twiml.Voice([]twiml.Element{say, hangup})
	if err != nil {
		return "", core.NewAPIError("render hangup markup: " + err.Error())
	}
	return markup, nil
}

func (p *Provider) ConnectStream(greeting, streamURL, callID string) (string, error) {
	elements := make([]twiml.Element, 0, 2)
	if greeting != "" {
		elements = append(elements, &twiml.VoiceSay{Message: greeting})
	}
	stream := twiml.VoiceStream{
		Url: streamURL,
		InnerElements: []twiml.Element{
			twiml.VoiceParameter{Name: "call_id", Value: callID},
		},
	}
	connect := twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	elements = append(elements, connect)

	markup, err := twiml.Voice(elements)
	if err != nil {
		return "", core.NewAPIError("render stream markup: " + err.Error())
	}
	return markup, nil
}
