package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.twlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	events := []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "abc12345",
			Direction:    log.DirectionOut,
			Layer:        log.LayerWire,
			Category:     log.CategoryFrame,
			Frame: &log.FrameEvent{
				Size: 23,
				Code: "sub",
				Text: `sub 1 {"type":"ticker"}`,
			},
		},
		{
			Timestamp:      ts.Add(time.Second),
			ConnectionID:   "abc12345",
			Direction:      log.DirectionIn,
			Layer:          log.LayerWire,
			Category:       log.CategoryFrame,
			SubscriptionID: "1",
			Frame: &log.FrameEvent{
				Size: 15,
				Code: "FULL",
				Text: `1 A{"bid":"10"}`,
			},
		},
	}

	path := createTestLogFile(t, events)

	outPath := filepath.Join(t.TempDir(), "out.jsonl")
	if err := RunExport(path, "jsonl", outPath); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	// Each line must be valid JSON
	for i, line := range lines {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}

	// Second line carries the subscription ID
	if !strings.Contains(lines[1], `"1"`) {
		t.Errorf("expected subscription ID in second line, got: %s", lines[1])
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp:      ts,
			ConnectionID:   "conn-1",
			Direction:      log.DirectionIn,
			Layer:          log.LayerWire,
			Category:       log.CategoryFrame,
			SubscriptionID: "3",
			Frame: &log.FrameEvent{
				Size: 42,
				Code: "DELTA",
			},
		},
		{
			Timestamp:    ts.Add(time.Second),
			ConnectionID: "conn-1",
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{
				Type: log.ControlMsgPing,
			},
		},
	}

	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	outPath := filepath.Join(t.TempDir(), "out.csv")
	if err := RunExport(path, "csv", outPath); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	buf.Write(data)
	output := buf.String()

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}

	// Header
	if !strings.Contains(lines[0], "subscription_id") {
		t.Errorf("expected subscription_id column, got: %s", lines[0])
	}

	// Frame row
	if !strings.Contains(lines[1], "DELTA") {
		t.Errorf("expected DELTA code in first row, got: %s", lines[1])
	}
	if !strings.Contains(lines[1], ",42") {
		t.Errorf("expected frame size in first row, got: %s", lines[1])
	}

	// Control row
	if !strings.Contains(lines[2], "PING") {
		t.Errorf("expected PING type in second row, got: %s", lines[2])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, []log.Event{
		{Timestamp: time.Now(), Category: log.CategoryFrame},
	})

	err := RunExport(path, "xml", "")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("unexpected error: %v", err)
	}
}
