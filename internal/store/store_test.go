package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/hand-extractor/internal/pipeline"
)

// fakeDynamo keeps items keyed by "PK|SK".
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	// unprocessOnce leaves the first item of the first batch unprocessed.
	unprocessOnce bool
	batches       int
	pageSize      int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return str(item["PK"]) + "|" + str(item["SK"])
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemKey(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	v := in.ExpressionAttributeValues
	item["status"] = v[":s"]
	item["error"] = v[":e"]
	item["failedStage"] = v[":stage"]
	item["updatedAt"] = v[":now"]
	item["completedAt"] = v[":now"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := str(in.ExpressionAttributeValues[":pk"])
	prefix := str(in.ExpressionAttributeValues[":prefix"])
	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if str(item["PK"]) == pk && strings.HasPrefix(str(item["SK"]), prefix) {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return str(matched[i]["SK"]) < str(matched[j]["SK"]) })
	// Page by position so pagination is exercised.
	start := 0
	if in.ExclusiveStartKey != nil {
		start, _ = strconv.Atoi(in.ExclusiveStartKey["offset"].(*types.AttributeValueMemberN).Value)
	}
	end := len(matched)
	out := &dynamodb.QueryOutput{}
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
		out.LastEvaluatedKey = map[string]types.AttributeValue{"offset": &types.AttributeValueMemberN{Value: strconv.Itoa(end)}}
	}
	out.Items = matched[start:end]
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if len(reqs) > maxBatchWrite {
			return nil, errors.New("too many items in batch")
		}
		for i, r := range reqs {
			if f.unprocessOnce && i == 0 {
				f.unprocessOnce = false
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], r)
				continue
			}
			switch {
			case r.PutRequest != nil:
				f.items[itemKey(r.PutRequest.Item)] = r.PutRequest.Item
			case r.DeleteRequest != nil:
				delete(f.items, itemKey(r.DeleteRequest.Key))
			}
		}
	}
	return out, nil
}

func sampleRecord() *RunRecord {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &RunRecord{
		RunID:             "run-abc",
		StreamID:          "7b1e7a52-8d0c-4c57-9a55-3f4f4d1d2e10",
		Source:            "s3://broadcasts/day1.mp4",
		Platform:          "triton",
		Status:            pipeline.StatusProcessing,
		Progress:          33,
		TotalSegments:     3,
		ProcessedSegments: 1,
		HandsFound:        12,
		CurrentSubSegment: "1800-3600",
		StartedAt:         start,
		UpdatedAt:         start.Add(time.Minute),
	}
}

func TestDynamoStore_RunRoundTrip(t *testing.T) {
	db := newFakeDynamo()
	s := NewDynamoStore(db, "hand-runs")
	ctx := context.Background()

	rec := sampleRecord()
	if err := s.PutRun(ctx, rec); err != nil {
		t.Fatalf("PutRun: %v", err)
	}
	item := db.items["RUN#run-abc|META"]
	if item == nil {
		t.Fatalf("item not stored under RUN#/META: %v", db.items)
	}
	if _, ok := item["expiresAt"].(*types.AttributeValueMemberN); !ok {
		t.Error("expiresAt TTL attribute missing")
	}
	if _, ok := item["runId"]; ok {
		t.Error("runId is derived from PK and must not be stored")
	}

	got, err := s.GetRun(ctx, "run-abc")
	if err != nil || got == nil {
		t.Fatalf("GetRun: %v, %v", got, err)
	}
	if got.RunID != "run-abc" || got.HandsFound != 12 || got.Status != pipeline.StatusProcessing || !got.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("got %+v", got)
	}

	missing, err := s.GetRun(ctx, "run-nope")
	if err != nil || missing != nil {
		t.Errorf("missing run = %v, %v", missing, err)
	}
}

func TestDynamoStore_SetRunError(t *testing.T) {
	db := newFakeDynamo()
	s := NewDynamoStore(db, "hand-runs")
	ctx := context.Background()

	if err := s.SetRunError(ctx, "run-abc", "extract", "boom"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.PutRun(ctx, sampleRecord()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRunError(ctx, "run-abc", "extract", "gave up after 3 attempts"); err != nil {
		t.Fatalf("SetRunError: %v", err)
	}
	got, _ := s.GetRun(ctx, "run-abc")
	if got.Status != pipeline.StatusAborted || got.FailedStage != "extract" || got.Error == "" || got.CompletedAt == nil {
		t.Errorf("got %+v", got)
	}
	if got.HandsFound != 12 {
		t.Error("counters must survive an error update")
	}
}

func TestDynamoStore_Segments(t *testing.T) {
	db := newFakeDynamo()
	db.unprocessOnce = true
	db.pageSize = 7
	s := NewDynamoStore(db, "hand-runs")
	ctx := context.Background()

	var segs []pipeline.SegmentSummary
	for i := 29; i >= 0; i-- {
		segs = append(segs, pipeline.SegmentSummary{Index: i, Start: float64(i * 1800), End: float64((i + 1) * 1800), Hands: i})
	}
	if err := s.PutRun(ctx, sampleRecord()); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSegments(ctx, "run-abc", segs); err != nil {
		t.Fatalf("PutSegments: %v", err)
	}
	if db.batches != 3 {
		t.Errorf("batches = %d, want 3 (25 + 5 + resubmit)", db.batches)
	}

	got, err := s.GetSegments(ctx, "run-abc")
	if err != nil {
		t.Fatalf("GetSegments: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("segments = %d, want 30", len(got))
	}
	for i, seg := range got {
		if seg.Index != i || seg.Hands != i {
			t.Fatalf("segment %d = %+v", i, seg)
		}
	}

	if err := s.DeleteRun(ctx, "run-abc"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if len(db.items) != 0 {
		t.Errorf("items left after delete: %d", len(db.items))
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.SetRunError(ctx, "run-abc", "extract", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	rec := sampleRecord()
	_ = m.PutRun(ctx, rec)
	rec.HandsFound = 99
	got, _ := m.GetRun(ctx, "run-abc")
	if got.HandsFound != 12 {
		t.Error("store must keep its own copy")
	}

	_ = m.PutSegments(ctx, "run-abc", []pipeline.SegmentSummary{{Index: 1}, {Index: 0}})
	_ = m.PutSegments(ctx, "run-abc", []pipeline.SegmentSummary{{Index: 1, Hands: 4}})
	segs, _ := m.GetSegments(ctx, "run-abc")
	if len(segs) != 2 || segs[0].Index != 0 || segs[1].Hands != 4 {
		t.Errorf("segments = %+v", segs)
	}

	_ = m.DeleteRun(ctx, "run-abc")
	if got, _ := m.GetRun(ctx, "run-abc"); got != nil {
		t.Error("run should be deleted")
	}
}

type failingStore struct {
	*MemoryStore
	calls int
}

func (f *failingStore) PutRun(context.Context, *RunRecord) error {
	f.calls++
	return errors.New("throttled")
}

func TestProgressWriter(t *testing.T) {
	m := NewMemoryStore()
	write := ProgressWriter(context.Background(), m, RunRecord{Source: "s3://b/k.mp4", Platform: "ept"})

	now := time.Now().UTC()
	write(pipeline.Progress{RunID: "run-1", StreamID: "s", Status: pipeline.StatusProcessing, Percent: 50, HandsFound: 3, StartedAt: now, UpdatedAt: now})
	got, _ := m.GetRun(context.Background(), "run-1")
	if got == nil || got.Progress != 50 || got.HandsFound != 3 || got.Source != "s3://b/k.mp4" || got.Platform != "ept" {
		t.Fatalf("got %+v", got)
	}

	write(pipeline.Progress{RunID: "run-1", Status: pipeline.StatusCompleted, Percent: 100, CompletedAt: &now})
	got, _ = m.GetRun(context.Background(), "run-1")
	if got.Status != pipeline.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("got %+v", got)
	}

	// A failing store must not panic or block the run.
	fs := &failingStore{MemoryStore: NewMemoryStore()}
	ProgressWriter(context.Background(), fs, RunRecord{})(pipeline.Progress{RunID: "run-2"})
	if fs.calls != 1 {
		t.Errorf("calls = %d", fs.calls)
	}
}
