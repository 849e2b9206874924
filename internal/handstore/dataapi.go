package handstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/hand"
)

// The Data API takes named parameters and no array values; hole cards are
// sent as a text[] literal.
const (
	dataInsertHandSQL = `INSERT INTO hands (
    stream_id, run_id, number, description, timestamp_display,
    video_timestamp_start, video_timestamp_end, pot_size, board_cards,
    small_blind, big_blind, ante
) VALUES (:stream_id, :run_id, :number, :description, :timestamp_display,
    :video_start, :video_end, :pot_size, :board_cards,
    :small_blind, :big_blind, :ante)
RETURNING id`

	dataUpsertPlayerSQL = `INSERT INTO players (name, normalized_name) VALUES (:name, :normalized_name)
ON CONFLICT (normalized_name) DO UPDATE SET normalized_name = EXCLUDED.normalized_name
RETURNING id`

	dataInsertHandPlayerSQL = `INSERT INTO hand_players (
    hand_id, player_id, poker_position, hole_cards, starting_stack, seat, is_winner
) VALUES (:hand_id, :player_id, :position, :hole_cards::text[], :starting_stack, :seat, :is_winner)`

	dataInsertActionSQL = `INSERT INTO hand_actions (
    hand_id, player_id, sequence, street, action_type, amount
) VALUES (:hand_id, :player_id, :sequence, :street, :action_type, :amount)`
)

// DataAPI is the subset of *rdsdata.Client the Data API store uses.
type DataAPI interface {
	BeginTransaction(ctx context.Context, in *rdsdata.BeginTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BeginTransactionOutput, error)
	ExecuteStatement(ctx context.Context, in *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
	BatchExecuteStatement(ctx context.Context, in *rdsdata.BatchExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BatchExecuteStatementOutput, error)
	CommitTransaction(ctx context.Context, in *rdsdata.CommitTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.CommitTransactionOutput, error)
	RollbackTransaction(ctx context.Context, in *rdsdata.RollbackTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.RollbackTransactionOutput, error)
}

// DataAPIStore saves hands to Aurora PostgreSQL through the RDS Data API,
// for functions without network access to the cluster.
type DataAPIStore struct {
	client     DataAPI
	clusterARN string
	secretARN  string
	database   string
}

// NewDataAPIStore builds a store on the given cluster.
func NewDataAPIStore(client DataAPI, clusterARN, secretARN, database string) *DataAPIStore {
	return &DataAPIStore{client: client, clusterARN: clusterARN, secretARN: secretARN, database: database}
}

// EnsureSchema creates the tables. The Data API runs one statement per call.
func (s *DataAPIStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.exec(ctx, "", stmt, nil); err != nil {
			return fmt.Errorf("handstore schema: %w", err)
		}
	}
	return nil
}

// SaveHands has the same contract as PGStore.SaveHands.
func (s *DataAPIStore) SaveHands(ctx context.Context, streamID, runID string, hands []hand.Hand) (SaveResult, error) {
	return saveAll(ctx, "dataapi", streamID, runID, hands, s.saveHand)
}

func (s *DataAPIStore) saveHand(ctx context.Context, streamID, runID string, h hand.Hand) (int, error) {
	row := BuildHandRow(h)
	players := BuildPlayerRows(h)
	actions, skipped := BuildActionRows(h)

	begin, err := s.client.BeginTransaction(ctx, &rdsdata.BeginTransactionInput{
		ResourceArn: aws.String(s.clusterARN),
		SecretArn:   aws.String(s.secretARN),
		Database:    aws.String(s.database),
	})
	if err != nil {
		return 0, classifyDataAPI(row.Number, fmt.Errorf("begin transaction: %w", err))
	}
	txID := aws.ToString(begin.TransactionId)

	if err := s.writeHand(ctx, txID, streamID, runID, row, players, actions); err != nil {
		if _, rbErr := s.client.RollbackTransaction(context.WithoutCancel(ctx), &rdsdata.RollbackTransactionInput{
			ResourceArn:   aws.String(s.clusterARN),
			SecretArn:     aws.String(s.secretARN),
			TransactionId: aws.String(txID),
		}); rbErr != nil {
			log.Warn().Err(rbErr).Str("hand", row.Number).Msg("Data API rollback failed")
		}
		return 0, classifyDataAPI(row.Number, err)
	}

	if _, err := s.client.CommitTransaction(ctx, &rdsdata.CommitTransactionInput{
		ResourceArn:   aws.String(s.clusterARN),
		SecretArn:     aws.String(s.secretARN),
		TransactionId: aws.String(txID),
	}); err != nil {
		return 0, classifyDataAPI(row.Number, fmt.Errorf("commit: %w", err))
	}
	if skipped > 0 {
		log.Warn().Str("hand", row.Number).Int("skipped", skipped).Msg("Dropping actions by players not in the hand")
	}
	return skipped, nil
}

func (s *DataAPIStore) writeHand(ctx context.Context, txID, streamID, runID string, row HandRow, players []PlayerRow, actions []ActionRow) error {
	out, err := s.exec(ctx, txID, dataInsertHandSQL, []rdstypes.SqlParameter{
		{Name: aws.String("stream_id"), Value: str(streamID), TypeHint: rdstypes.TypeHintUuid},
		param("run_id", str(runID)),
		param("number", str(row.Number)),
		param("description", str(row.Description)),
		param("timestamp_display", str(row.TimestampDisplay)),
		param("video_start", optDouble(row.VideoStart)),
		param("video_end", optDouble(row.VideoEnd)),
		param("pot_size", &rdstypes.FieldMemberDoubleValue{Value: row.PotSize}),
		param("board_cards", str(row.BoardCards)),
		param("small_blind", optLong(row.SmallBlind)),
		param("big_blind", optLong(row.BigBlind)),
		param("ante", optLong(row.Ante)),
	})
	if err != nil {
		return fmt.Errorf("insert hand: %w", err)
	}
	handID, err := returnedID(out)
	if err != nil {
		return fmt.Errorf("insert hand: %w", err)
	}

	playerIDs := make(map[string]int64, len(players))
	for _, p := range players {
		out, err := s.exec(ctx, txID, dataUpsertPlayerSQL, []rdstypes.SqlParameter{
			param("name", str(p.Name)),
			param("normalized_name", str(p.NormalizedName)),
		})
		if err != nil {
			return fmt.Errorf("upsert player %q: %w", p.Name, err)
		}
		if playerIDs[p.NormalizedName], err = returnedID(out); err != nil {
			return fmt.Errorf("upsert player %q: %w", p.Name, err)
		}
	}

	if len(players) > 0 {
		sets := make([][]rdstypes.SqlParameter, 0, len(players))
		for _, p := range players {
			sets = append(sets, []rdstypes.SqlParameter{
				param("hand_id", long(handID)),
				param("player_id", long(playerIDs[p.NormalizedName])),
				param("position", optString(p.Position)),
				param("hole_cards", str(textArray(p.HoleCards))),
				param("starting_stack", &rdstypes.FieldMemberDoubleValue{Value: p.StartingStack}),
				param("seat", optInt(p.Seat)),
				param("is_winner", &rdstypes.FieldMemberBooleanValue{Value: p.IsWinner}),
			})
		}
		if err := s.batch(ctx, txID, dataInsertHandPlayerSQL, sets); err != nil {
			return fmt.Errorf("insert hand players: %w", err)
		}
	}
	if len(actions) > 0 {
		sets := make([][]rdstypes.SqlParameter, 0, len(actions))
		for _, a := range actions {
			sets = append(sets, []rdstypes.SqlParameter{
				param("hand_id", long(handID)),
				param("player_id", long(playerIDs[a.NormalizedName])),
				param("sequence", long(int64(a.Sequence))),
				param("street", str(a.Street)),
				param("action_type", str(a.ActionType)),
				param("amount", &rdstypes.FieldMemberDoubleValue{Value: a.Amount}),
			})
		}
		if err := s.batch(ctx, txID, dataInsertActionSQL, sets); err != nil {
			return fmt.Errorf("insert actions: %w", err)
		}
	}
	return nil
}

func (s *DataAPIStore) exec(ctx context.Context, txID, sql string, params []rdstypes.SqlParameter) (*rdsdata.ExecuteStatementOutput, error) {
	in := &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(s.clusterARN),
		SecretArn:   aws.String(s.secretARN),
		Database:    aws.String(s.database),
		Sql:         aws.String(sql),
		Parameters:  params,
	}
	if txID != "" {
		in.TransactionId = aws.String(txID)
	}
	return s.client.ExecuteStatement(ctx, in)
}

func (s *DataAPIStore) batch(ctx context.Context, txID, sql string, sets [][]rdstypes.SqlParameter) error {
	_, err := s.client.BatchExecuteStatement(ctx, &rdsdata.BatchExecuteStatementInput{
		ResourceArn:   aws.String(s.clusterARN),
		SecretArn:     aws.String(s.secretARN),
		Database:      aws.String(s.database),
		Sql:           aws.String(sql),
		ParameterSets: sets,
		TransactionId: aws.String(txID),
	})
	return err
}

// classifyDataAPI treats statement errors reported as BadRequestException
// (constraint and type violations) as bad input; everything else may pass on
// retry.
func classifyDataAPI(number string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "BadRequestException" {
		return failure.New(failure.Input, "save", fmt.Errorf("hand %s: %w", number, err))
	}
	return failure.New(failure.Transient, "save", fmt.Errorf("hand %s: %w", number, err))
}

func returnedID(out *rdsdata.ExecuteStatementOutput) (int64, error) {
	if out == nil || len(out.Records) == 0 || len(out.Records[0]) == 0 {
		return 0, errors.New("no id returned")
	}
	if v, ok := out.Records[0][0].(*rdstypes.FieldMemberLongValue); ok {
		return v.Value, nil
	}
	return 0, fmt.Errorf("unexpected id field %T", out.Records[0][0])
}

func param(name string, v rdstypes.Field) rdstypes.SqlParameter {
	return rdstypes.SqlParameter{Name: aws.String(name), Value: v}
}

func str(s string) rdstypes.Field { return &rdstypes.FieldMemberStringValue{Value: s} }

func long(n int64) rdstypes.Field { return &rdstypes.FieldMemberLongValue{Value: n} }

func null() rdstypes.Field { return &rdstypes.FieldMemberIsNull{Value: true} }

func optDouble(v *float64) rdstypes.Field {
	if v == nil {
		return null()
	}
	return &rdstypes.FieldMemberDoubleValue{Value: *v}
}

func optLong(v *int64) rdstypes.Field {
	if v == nil {
		return null()
	}
	return long(*v)
}

func optInt(v *int) rdstypes.Field {
	if v == nil {
		return null()
	}
	return long(int64(*v))
}

func optString(v *string) rdstypes.Field {
	if v == nil {
		return null()
	}
	return str(*v)
}

// textArray renders a Postgres text[] literal.
func textArray(arr []string) string {
	if len(arr) == 0 {
		return "{}"
	}
	quoted := make([]string, len(arr))
	for i, s := range arr {
		quoted[i] = strconv.Quote(s)
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
