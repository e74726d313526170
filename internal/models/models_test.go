package models

import (
	"encoding/json"
	"testing"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"angle":    "low",
		"movement": "dolly",
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	if data == nil {
		t.Fatal("expected non-nil data")
	}

	// Verify it's valid JSON
	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["angle"] != "low" {
		t.Errorf("expected angle=low, got %v", result["angle"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"angle": "high", "lens": 35}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["angle"] != "high" {
		t.Errorf("expected angle=high, got %v", j["angle"])
	}

	if j["lens"].(float64) != 35 {
		t.Errorf("expected lens=35, got %v", j["lens"])
	}
}

func TestQueueItemStatus(t *testing.T) {
	statuses := []QueueItemStatus{
		QueueItemPending,
		QueueItemProcessing,
		QueueItemComplete,
		QueueItemFailed,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
}

func TestWorkflowStages(t *testing.T) {
	stages := []WorkflowStage{
		StageEmpty,
		StageAudioLoaded,
		StageTranscribing,
		StageTranscribed,
		StagePlanning,
		StagePlanned,
		StageGenerating,
		StageReady,
	}

	for _, stage := range stages {
		if stage == "" {
			t.Errorf("empty stage found")
		}
	}
}

func TestClipDuration(t *testing.T) {
	c := Clip{StartTime: 12.5, EndTime: 20.0}
	if got := c.Duration(); got != 7.5 {
		t.Errorf("expected duration 7.5, got %v", got)
	}
}
