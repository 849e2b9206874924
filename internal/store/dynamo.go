package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/pipeline"
)

const (
	pkPrefix  = "RUN#"
	skMeta    = "META"
	skSegment = "SEGMENT#"

	// maxBatchWrite is the BatchWriteItem limit per call.
	maxBatchWrite = 25
)

// DynamoAPI is the subset of *dynamodb.Client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements RunStore on a single DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var _ RunStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func runPK(runID string) string { return pkPrefix + runID }

func segmentSK(index int) string { return fmt.Sprintf("%s%04d", skSegment, index) }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *DynamoStore) expiresAt() string {
	return strconv.FormatInt(s.now().Add(RunTTL).Unix(), 10)
}

// item marshals a domain object and adds the key and TTL attributes.
func (s *DynamoStore) item(pk, sk string, data any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: s.expiresAt()}
	return item, nil
}

func (s *DynamoStore) PutRun(ctx context.Context, rec *RunRecord) error {
	item, err := s.item(runPK(rec.RunID), skMeta, rec)
	if err != nil {
		return fmt.Errorf("put run %s: %w", rec.RunID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("PutItem run %s: %w", rec.RunID, err)
	}
	log.Debug().
		Str("runId", rec.RunID).
		Str("status", string(rec.Status)).
		Int("progress", rec.Progress).
		Msg("Run record written")
	return nil
}

func (s *DynamoStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       key(runPK(runID), skMeta),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem run %s: %w", runID, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var rec RunRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	rec.RunID = runID
	return &rec, nil
}

func (s *DynamoStore) SetRunError(ctx context.Context, runID, stage, msg string) error {
	now, err := attributevalue.Marshal(s.now().UTC())
	if err != nil {
		return fmt.Errorf("marshal time: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 key(runPK(runID), skMeta),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		UpdateExpression:    aws.String("SET #s = :s, #e = :e, failedStage = :stage, updatedAt = :now, completedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // reserved words
			"#e": "error",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":     &types.AttributeValueMemberS{Value: string(pipeline.StatusAborted)},
			":e":     &types.AttributeValueMemberS{Value: msg},
			":stage": &types.AttributeValueMemberS{Value: stage},
			":now":   now,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("set run error %s: %w", runID, ErrNotFound)
		}
		return fmt.Errorf("UpdateItem run %s: %w", runID, err)
	}
	log.Debug().Str("runId", runID).Str("stage", stage).Msg("Run marked aborted")
	return nil
}

func (s *DynamoStore) PutSegments(ctx context.Context, runID string, segments []pipeline.SegmentSummary) error {
	pk := runPK(runID)
	requests := make([]types.WriteRequest, 0, len(segments))
	for _, seg := range segments {
		item, err := s.item(pk, segmentSK(seg.Index), seg)
		if err != nil {
			return fmt.Errorf("put segment %s/%d: %w", runID, seg.Index, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("put segments %s: %w", runID, err)
	}
	log.Debug().Str("runId", runID).Int("count", len(segments)).Msg("Segment summaries written")
	return nil
}

func (s *DynamoStore) GetSegments(ctx context.Context, runID string) ([]pipeline.SegmentSummary, error) {
	items, err := s.queryBySKPrefix(ctx, runID, skSegment)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.SegmentSummary, 0, len(items))
	for _, item := range items {
		var seg pipeline.SegmentSummary
		if err := attributevalue.UnmarshalMap(item, &seg); err != nil {
			return nil, fmt.Errorf("unmarshal segment of %s: %w", runID, err)
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *DynamoStore) DeleteRun(ctx context.Context, runID string) error {
	items, err := s.queryBySKPrefix(ctx, runID, "")
	if err != nil {
		return err
	}
	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]}},
		})
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	log.Info().Str("runId", runID).Int("items", len(requests)).Msg("Run deleted")
	return nil
}

// queryBySKPrefix returns every item of a run whose SK starts with prefix,
// following pagination.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, runID, prefix string) ([]map[string]types.AttributeValue, error) {
	pk := runPK(runID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if prefix != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%q: %w", pk, prefix, err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return items, nil
}

// batchWrite sends requests in chunks of 25 and resubmits unprocessed items
// a bounded number of times.
func (s *DynamoStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	const maxResubmits = 3
	for i := 0; i < len(requests); i += maxBatchWrite {
		chunk := requests[i:min(i+maxBatchWrite, len(requests))]
		for attempt := 0; len(chunk) > 0; attempt++ {
			if attempt > maxResubmits {
				return fmt.Errorf("BatchWriteItem: %d items unprocessed", len(chunk))
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.tableName: chunk},
			})
			if err != nil {
				return fmt.Errorf("BatchWriteItem (%d items): %w", len(chunk), err)
			}
			chunk = out.UnprocessedItems[s.tableName]
		}
	}
	return nil
}
