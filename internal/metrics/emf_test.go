package metrics

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"
)

// captureOutput redirects flushed lines into a buffer for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := captureOutput(t)

	rec := New(Namespace)
	rec.Dimension("Mode", "edit")
	rec.Dimension("Result", "success")
	rec.Metric("GenerationMs", 1234.5, UnitMilliseconds)
	rec.Metric("ImageCount", 2, UnitCount)
	rec.Property("model", "gemini-2.5-flash-image")
	rec.Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}

	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, cw["Namespace"])
	}

	dims := cw["Dimensions"].([]interface{})[0].([]interface{})
	if len(dims) != 2 || dims[0] != "Mode" || dims[1] != "Result" {
		t.Errorf("expected sorted dimensions [Mode Result], got %v", dims)
	}

	if doc["Mode"] != "edit" {
		t.Errorf("expected Mode=edit, got %v", doc["Mode"])
	}
	if doc["GenerationMs"] != 1234.5 {
		t.Errorf("expected GenerationMs=1234.5, got %v", doc["GenerationMs"])
	}
	if doc["ImageCount"] != float64(2) {
		t.Errorf("expected ImageCount=2, got %v", doc["ImageCount"])
	}
	if doc["model"] != "gemini-2.5-flash-image" {
		t.Errorf("expected model property, got %v", doc["model"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := captureOutput(t)

	New("Test").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Discard(t *testing.T) {
	SetOutput(io.Discard)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	// Must not panic or write anywhere observable.
	New("Test").Count("Calls").Flush()
}

func TestRecorder_Count(t *testing.T) {
	rec := New("Test")
	rec.Count("Errors")

	if v, ok := rec.values["Errors"]; !ok || v != float64(1) {
		t.Errorf("expected Errors=1, got %v", v)
	}
	if m, ok := rec.metrics["Errors"]; !ok || m.Unit != UnitCount {
		t.Errorf("expected unit Count, got %v", m.Unit)
	}
}

func TestRecorder_Chaining(t *testing.T) {
	rec := New("Test").
		Dimension("Mode", "generate").
		Metric("GenerationMs", 100, UnitMilliseconds).
		Count("Calls").
		Property("aspectRatio", "16:9")

	if rec.dimensions["Mode"] != "generate" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["GenerationMs"] != float64(100) {
		t.Error("chaining Metric failed")
	}
	if rec.values["Calls"] != float64(1) {
		t.Error("chaining Count failed")
	}
	if rec.properties["aspectRatio"] != "16:9" {
		t.Error("chaining Property failed")
	}
}
