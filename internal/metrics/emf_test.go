package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func withFunctionName(t *testing.T, name string) {
	t.Helper()
	prev := lambdaFunction
	lambdaFunction = func() string { return name }
	t.Cleanup(func() { lambdaFunction = prev })
}

func TestNew_FunctionNameDimension(t *testing.T) {
	withFunctionName(t, "extract-lambda")

	r := New(Namespace)
	if r.namespace != Namespace {
		t.Errorf("namespace = %s, want %s", r.namespace, Namespace)
	}
	if r.dimensions["FunctionName"] != "extract-lambda" {
		t.Errorf("FunctionName = %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_Flush(t *testing.T) {
	withFunctionName(t, "")
	prevNow := now
	now = func() time.Time { return time.UnixMilli(1700000000000) }
	t.Cleanup(func() { now = prevNow })
	buf := capture(t)

	New(Namespace).
		Dimension("Operation", "extract").
		Metric("GeminiLatencyMs", 1234.5, UnitMilliseconds).
		Metric("HandsExtracted", 7, UnitCount).
		Property("runId", "run-abc").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}

	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if aws["Timestamp"] != float64(1700000000000) {
		t.Errorf("Timestamp = %v", aws["Timestamp"])
	}
	cw, ok := aws["CloudWatchMetrics"].([]any)
	if !ok || len(cw) != 1 {
		t.Fatalf("CloudWatchMetrics = %v", aws["CloudWatchMetrics"])
	}
	block := cw[0].(map[string]any)
	if block["Namespace"] != Namespace {
		t.Errorf("Namespace = %v", block["Namespace"])
	}
	defs := block["Metrics"].([]any)
	if len(defs) != 2 || defs[0].(map[string]any)["Name"] != "GeminiLatencyMs" {
		t.Errorf("metric definitions not sorted by name: %v", defs)
	}

	if doc["Operation"] != "extract" {
		t.Errorf("Operation = %v", doc["Operation"])
	}
	if doc["GeminiLatencyMs"] != 1234.5 {
		t.Errorf("GeminiLatencyMs = %v", doc["GeminiLatencyMs"])
	}
	if doc["HandsExtracted"] != float64(7) {
		t.Errorf("HandsExtracted = %v", doc["HandsExtracted"])
	}
	if doc["runId"] != "run-abc" {
		t.Errorf("runId = %v", doc["runId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := capture(t)
	New(Namespace).Dimension("Operation", "noop").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}

func TestRecorder_CountAndDuration(t *testing.T) {
	rec := New(Namespace).Count("SegmentsEmpty").Duration("ClipMs", 1500*time.Millisecond)
	if e := rec.entries["SegmentsEmpty"]; e.value != 1 || e.unit != UnitCount {
		t.Errorf("SegmentsEmpty = %+v", e)
	}
	if e := rec.entries["ClipMs"]; e.value != 1500 || e.unit != UnitMilliseconds {
		t.Errorf("ClipMs = %+v", e)
	}
}
