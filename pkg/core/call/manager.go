package call

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/voicegate/pkg/core"
)

// Originator places outbound calls with a telephony provider and returns the
// provider's call identifier.
type Originator interface {
	OriginateCall(ctx context.Context, toNumber string, metadata map[string]string) (providerCallID string, err error)
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// PlaceCallRequest carries the parameters for starting an outbound call.
type PlaceCallRequest struct {
	ElderID     string
	ToNumber    string
	InitiatedBy string
	Metadata    map[string]string
}

// Manager owns the call lifecycle: creation, provider status progression and
// conversation turn persistence.
type Manager struct {
	store      Store
	originator Originator
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(store Store, originator Originator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		originator: originator,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PlaceCall validates the request, records the call as INITIATED and asks the
// telephony provider to dial. The record is created before dialing so a
// provider webhook racing the origination response still finds it; a rejected
// origination removes the record again, so a failed placement never remains
// observable as a call.
func (m *Manager) PlaceCall(ctx context.Context, req PlaceCallRequest) (*VoiceCall, error) {
	if req.ElderID == "" {
		return nil, core.NewValidationError("elder_id is required", "elder_id")
	}
	number := strings.TrimSpace(req.ToNumber)
	if !e164Pattern.MatchString(number) {
		return nil, core.NewValidationError("to_number must be E.164, e.g. +15551234567", "to_number")
	}
	if m.originator == nil {
		return nil, core.NewAPIError("no telephony provider configured")
	}

	now := m.now()
	c := &VoiceCall{
		ID:        uuid.NewString(),
		ElderID:   req.ElderID,
		ToNumber:  number,
		Direction: DirectionOutbound,
		Status:    StatusInitiated,
		StartedAt: now,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.InitiatedBy != "" {
		by := req.InitiatedBy
		c.InitiatedBy = &by
	}
	if err := m.store.CreateCall(ctx, c); err != nil {
		return nil, err
	}

	meta := map[string]string{"call_id": c.ID, "elder_id": c.ElderID}
	providerCallID, err := m.originator.OriginateCall(ctx, number, meta)
	if err != nil {
		// The request context may already be cancelled; the compensating
		// delete still has to run.
		if derr := m.store.DeleteCall(context.WithoutCancel(ctx), c.ID); derr != nil {
			m.logger.Error("failed to remove call after origination error",
				"call_id", c.ID, "error", derr)
		}
		return nil, err
	}

	c.ProviderCallID = providerCallID
	c.UpdatedAt = m.now()
	if err := m.store.UpdateCall(ctx, c); err != nil {
		return nil, err
	}
	m.logger.Info("call placed", "call_id", c.ID, "elder_id", c.ElderID,
		"provider_call_id", providerCallID)
	return c, nil
}

// CreateInboundCall records a call the provider initiated toward us.
func (m *Manager) CreateInboundCall(ctx context.Context, providerCallID, elderID, fromNumber string) (*VoiceCall, error) {
	now := m.now()
	c := &VoiceCall{
		ID:             uuid.NewString(),
		ProviderCallID: providerCallID,
		ElderID:        elderID,
		ToNumber:       fromNumber,
		Direction:      DirectionInbound,
		Status:         StatusInProgress,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.CreateCall(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// StatusUpdate carries a provider status callback after payload parsing.
type StatusUpdate struct {
	ProviderStatus string
	DurationSecs   *int
	RecordingURL   *string
	Metadata       map[string]string
}

// UpdateStatus applies a provider status callback to the call. The stored
// status only moves forward, which makes webhook delivery retries idempotent,
// but the callback's payload always lands: metadata merges onto the record and
// duration/recording backfill even when the status itself does not advance.
func (m *Manager) UpdateStatus(ctx context.Context, providerCallID string, upd StatusUpdate) (*VoiceCall, error) {
	c, err := m.store.GetCallByProviderID(ctx, providerCallID)
	if err != nil {
		return nil, err
	}

	next, known := StatusFromProvider(upd.ProviderStatus)
	if !known {
		m.logger.Warn("unknown provider call status",
			"provider_call_id", providerCallID, "provider_status", upd.ProviderStatus)
	}

	if len(upd.Metadata) > 0 {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			c.Metadata[k] = v
		}
	}

	if !c.Status.advances(next) {
		m.logger.Debug("keeping status on non-advancing update",
			"call_id", c.ID, "current", c.Status, "received", next)
		if upd.DurationSecs != nil && c.DurationSecs == nil {
			c.DurationSecs = upd.DurationSecs
		}
		if upd.RecordingURL != nil && c.RecordingURL == nil {
			c.RecordingURL = upd.RecordingURL
		}
		c.UpdatedAt = m.now()
		if err := m.store.UpdateCall(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	}

	c.Status = next
	now := m.now()
	c.UpdatedAt = now
	if next.IsTerminal() {
		ended := now
		c.EndedAt = &ended
		if upd.DurationSecs != nil {
			c.DurationSecs = upd.DurationSecs
		}
		if upd.RecordingURL != nil {
			c.RecordingURL = upd.RecordingURL
		}
	}
	if err := m.store.UpdateCall(ctx, c); err != nil {
		return nil, err
	}
	m.logger.Info("call status updated", "call_id", c.ID, "status", c.Status)
	return c, nil
}

// AppendTurnRequest carries one conversation turn to persist.
type AppendTurnRequest struct {
	CallID        string
	Speaker       Speaker
	Transcription string
	Response      string
	AudioURL      string
	Confidence    *float64
	DurationMS    *int
	Model         string
	Metadata      map[string]string
}

// AppendTurn persists a turn against its call. The store guarantees the turn
// and the call's turn list update atomically.
func (m *Manager) AppendTurn(ctx context.Context, req AppendTurnRequest) (*ConversationTurn, error) {
	if req.CallID == "" {
		return nil, core.NewValidationError("call_id is required", "call_id")
	}
	switch req.Speaker {
	case SpeakerUser, SpeakerAI, SpeakerSystem:
	default:
		return nil, core.NewValidationError("speaker must be USER, AI or SYSTEM", "speaker")
	}
	t := &ConversationTurn{
		ID:            uuid.NewString(),
		CallID:        req.CallID,
		Speaker:       req.Speaker,
		Transcription: req.Transcription,
		Response:      req.Response,
		Confidence:    req.Confidence,
		DurationMS:    req.DurationMS,
		Model:         req.Model,
		Metadata:      req.Metadata,
		CreatedAt:     m.now(),
	}
	if req.AudioURL != "" {
		u := req.AudioURL
		t.AudioURL = &u
	}
	if err := m.store.AppendTurn(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Manager) GetCall(ctx context.Context, id string) (*VoiceCall, error) {
	return m.store.GetCall(ctx, id)
}

func (m *Manager) GetCallByProviderID(ctx context.Context, providerCallID string) (*VoiceCall, error) {
	return m.store.GetCallByProviderID(ctx, providerCallID)
}

func (m *Manager) CallsForElder(ctx context.Context, elderID string) ([]*VoiceCall, error) {
	if elderID == "" {
		return nil, core.NewValidationError("elder_id is required", "elder_id")
	}
	return m.store.CallsForElder(ctx, elderID)
}

func (m *Manager) TurnsForCall(ctx context.Context, callID string) ([]*ConversationTurn, error) {
	return m.store.TurnsForCall(ctx, callID)
}
