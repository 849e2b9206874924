// Package handstore writes extracted hands to PostgreSQL: one row per hand,
// players deduplicated by normalized name, and actions in play order.
package handstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/hand"
	"github.com/fpang/hand-extractor/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertHandSQL = `INSERT INTO hands (
    stream_id, run_id, number, description, timestamp_display,
    video_timestamp_start, video_timestamp_end, pot_size, board_cards,
    small_blind, big_blind, ante
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`

	upsertPlayerSQL = `INSERT INTO players (name, normalized_name) VALUES ($1, $2)
ON CONFLICT (normalized_name) DO UPDATE SET normalized_name = EXCLUDED.normalized_name
RETURNING id`

	insertHandPlayerSQL = `INSERT INTO hand_players (
    hand_id, player_id, poker_position, hole_cards, starting_stack, seat, is_winner
) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertActionSQL = `INSERT INTO hand_actions (
    hand_id, player_id, sequence, street, action_type, amount
) VALUES ($1, $2, $3, $4, $5, $6)`
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore saves hands.
type PGStore struct {
	db DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

// Open connects a pool to databaseURL and applies the schema.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, *PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, failure.New(failure.Config, "startup", fmt.Errorf("handstore open: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, failure.New(failure.Config, "startup", fmt.Errorf("handstore ping: %w", err))
	}
	s := NewPGStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, s, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("handstore schema: %w", err)
	}
	return nil
}

// SaveResult counts what SaveHands wrote.
type SaveResult struct {
	Saved          int `json:"saved"`
	Errors         int `json:"errors"`
	Total          int `json:"total"`
	SkippedActions int `json:"skippedActions"`
}

// SaveHands writes each hand in its own transaction. A failing hand is
// counted and skipped; the rest are still written. Only a canceled context
// stops the loop early.
func (s *PGStore) SaveHands(ctx context.Context, streamID, runID string, hands []hand.Hand) (SaveResult, error) {
	return saveAll(ctx, "postgres", streamID, runID, hands, s.saveHand)
}

type saveFunc func(ctx context.Context, streamID, runID string, h hand.Hand) (int, error)

func saveAll(ctx context.Context, backend, streamID, runID string, hands []hand.Hand, save saveFunc) (SaveResult, error) {
	res := SaveResult{Total: len(hands)}
	start := time.Now()
	for i, h := range hands {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		skipped, err := save(ctx, streamID, runID, h)
		if err != nil {
			res.Errors++
			log.Error().Err(err).Str("runId", runID).Str("hand", string(h.Number)).Int("index", i).Msg("Failed to save hand")
			continue
		}
		res.Saved++
		res.SkippedActions += skipped
		if res.Saved%10 == 0 {
			log.Debug().Int("saved", res.Saved).Int("total", res.Total).Msg("Saving hands")
		}
	}

	metrics.New(metrics.Namespace).
		Dimension("Operation", "saveHands").
		Dimension("Backend", backend).
		Metric("HandsSaved", float64(res.Saved), metrics.UnitCount).
		Metric("HandSaveErrors", float64(res.Errors), metrics.UnitCount).
		Duration("HandSaveMs", time.Since(start)).
		Flush()
	log.Info().
		Str("backend", backend).
		Str("streamId", streamID).
		Str("runId", runID).
		Int("saved", res.Saved).
		Int("errors", res.Errors).
		Int("skippedActions", res.SkippedActions).
		Msg("Hands saved")

	if res.Total > 0 && res.Saved == 0 {
		return res, failure.Transientf("save", "no hands could be saved (%d errors)", res.Errors)
	}
	return res, nil
}

func (s *PGStore) saveHand(ctx context.Context, streamID, runID string, h hand.Hand) (int, error) {
	row := BuildHandRow(h)
	players := BuildPlayerRows(h)
	actions, skipped := BuildActionRows(h)
	if skipped > 0 {
		log.Warn().Str("hand", row.Number).Int("skipped", skipped).Msg("Dropping actions by players not in the hand")
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var handID int64
		if err := tx.QueryRow(ctx, insertHandSQL,
			streamID, runID, row.Number, row.Description, row.TimestampDisplay,
			row.VideoStart, row.VideoEnd, row.PotSize, row.BoardCards,
			row.SmallBlind, row.BigBlind, row.Ante,
		).Scan(&handID); err != nil {
			return fmt.Errorf("insert hand: %w", err)
		}

		playerIDs := make(map[string]int64, len(players))
		for _, p := range players {
			var id int64
			if err := tx.QueryRow(ctx, upsertPlayerSQL, p.Name, p.NormalizedName).Scan(&id); err != nil {
				return fmt.Errorf("upsert player %q: %w", p.Name, err)
			}
			playerIDs[p.NormalizedName] = id
		}

		batch := &pgx.Batch{}
		for _, p := range players {
			batch.Queue(insertHandPlayerSQL, handID, playerIDs[p.NormalizedName], p.Position, p.HoleCards, p.StartingStack, p.Seat, p.IsWinner)
		}
		for _, a := range actions {
			batch.Queue(insertActionSQL, handID, playerIDs[a.NormalizedName], a.Sequence, a.Street, a.ActionType, a.Amount)
		}
		if batch.Len() == 0 {
			return nil
		}
		br := tx.SendBatch(ctx, batch)
		for range batch.Len() {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert hand rows: %w", err)
			}
		}
		return br.Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return 0, failure.New(failure.Input, "save", fmt.Errorf("hand %s: %w", row.Number, err))
		}
		return 0, failure.New(failure.Transient, "save", fmt.Errorf("hand %s: %w", row.Number, err))
	}
	return skipped, nil
}
