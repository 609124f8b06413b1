// Package postgres persists calls and conversation turns in PostgreSQL.
// Turn appends run in a transaction that writes the turn row and extends the
// owning call's turn list together.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/call"
)

// Store implements call.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, verifies the connection and runs migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := Migrate(ctx, databaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, core.NewAPIError("open connection pool: " + err.Error())
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, core.NewAPIError("ping database: " + err.Error())
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const callColumns = `id, provider_call_id, elder_id, initiated_by, to_number, direction, status,
	started_at, ended_at, duration_secs, recording_url, turn_ids, metadata, created_at, updated_at`

func (s *Store) CreateCall(ctx context.Context, c *call.VoiceCall) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO voice_calls (`+callColumns+`)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.ProviderCallID, c.ElderID, c.InitiatedBy, c.ToNumber, c.Direction, c.Status,
		c.StartedAt, c.EndedAt, c.DurationSecs, c.RecordingURL, c.TurnIDs, c.Metadata,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return core.NewAPIError("insert call: " + err.Error())
	}
	return nil
}

func (s *Store) UpdateCall(ctx context.Context, c *call.VoiceCall) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE voice_calls
		SET provider_call_id = NULLIF($2, ''), status = $3, ended_at = $4,
		    duration_secs = $5, recording_url = $6, metadata = $7, updated_at = $8
		WHERE id = $1`,
		c.ID, c.ProviderCallID, c.Status, c.EndedAt,
		c.DurationSecs, c.RecordingURL, c.Metadata, c.UpdatedAt)
	if err != nil {
		return core.NewAPIError("update call: " + err.Error())
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("call not found: " + c.ID)
	}
	return nil
}

func (s *Store) DeleteCall(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM voice_calls WHERE id = $1`, id)
	if err != nil {
		return core.NewAPIError("delete call: " + err.Error())
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("call not found: " + id)
	}
	return nil
}

func (s *Store) GetCall(ctx context.Context, id string) (*call.VoiceCall, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM voice_calls WHERE id = $1`, id)
	return scanCall(row, "call not found: "+id)
}

func (s *Store) GetCallByProviderID(ctx context.Context, providerCallID string) (*call.VoiceCall, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM voice_calls WHERE provider_call_id = $1`, providerCallID)
	return scanCall(row, "call not found for provider id: "+providerCallID)
}

func (s *Store) CallsForElder(ctx context.Context, elderID string) ([]*call.VoiceCall, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+callColumns+` FROM voice_calls WHERE elder_id = $1 ORDER BY created_at`, elderID)
	if err != nil {
		return nil, core.NewAPIError("query calls: " + err.Error())
	}
	defer rows.Close()

	out := make([]*call.VoiceCall, 0, 8)
	for rows.Next() {
		c, err := scanCall(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewAPIError("scan calls: " + err.Error())
	}
	return out, nil
}

func (s *Store) AppendTurn(ctx context.Context, t *call.ConversationTurn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.NewAPIError("begin append turn: " + err.Error())
	}
	defer tx.Rollback(ctx)

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_turns
			(id, call_id, speaker, transcription, response, audio_url, confidence,
			 duration_ms, model, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.CallID, t.Speaker, t.Transcription, t.Response, t.AudioURL, t.Confidence,
		t.DurationMS, t.Model, t.Metadata, t.CreatedAt)
	if err != nil {
		return core.NewAPIError("insert turn: " + err.Error())
	}

	tag, err := tx.Exec(ctx, `
		UPDATE voice_calls
		SET turn_ids = array_append(turn_ids, $2), updated_at = now()
		WHERE id = $1`,
		t.CallID, t.ID)
	if err != nil {
		return core.NewAPIError("link turn: " + err.Error())
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("call not found: " + t.CallID)
	}
	if err := tx.Commit(ctx); err != nil {
		return core.NewAPIError("commit append turn: " + err.Error())
	}
	return nil
}

func (s *Store) TurnsForCall(ctx context.Context, callID string) ([]*call.ConversationTurn, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM voice_calls WHERE id = $1)`, callID).Scan(&exists); err != nil {
		return nil, core.NewAPIError("check call: " + err.Error())
	}
	if !exists {
		return nil, core.NewNotFoundError("call not found: " + callID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, speaker, transcription, response, audio_url, confidence,
		       duration_ms, model, metadata, created_at
		FROM conversation_turns
		WHERE call_id = $1
		ORDER BY seq`, callID)
	if err != nil {
		return nil, core.NewAPIError("query turns: " + err.Error())
	}
	defer rows.Close()

	out := make([]*call.ConversationTurn, 0, 16)
	for rows.Next() {
		var t call.ConversationTurn
		if err := rows.Scan(&t.ID, &t.CallID, &t.Speaker, &t.Transcription, &t.Response,
			&t.AudioURL, &t.Confidence, &t.DurationMS, &t.Model, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, core.NewAPIError("scan turn: " + err.Error())
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewAPIError("scan turns: " + err.Error())
	}
	return out, nil
}

func scanCall(row pgx.Row, notFoundMsg string) (*call.VoiceCall, error) {
	var c call.VoiceCall
	var providerCallID *string
	err := row.Scan(&c.ID, &providerCallID, &c.ElderID, &c.InitiatedBy, &c.ToNumber,
		&c.Direction, &c.Status, &c.StartedAt, &c.EndedAt, &c.DurationSecs,
		&c.RecordingURL, &c.TurnIDs, &c.Metadata, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if notFoundMsg == "" {
			notFoundMsg = "call not found"
		}
		return nil, core.NewNotFoundError(notFoundMsg)
	}
	if err != nil {
		return nil, core.NewAPIError("scan call: " + err.Error())
	}
	if providerCallID != nil {
		c.ProviderCallID = *providerCallID
	}
	return &c, nil
}

var _ call.Store = (*Store)(nil)
