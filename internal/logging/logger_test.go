package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "Production").Info("question answered", "success", true)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("production output is not JSON: %q", buf.String())
	}
	if entry["msg"] != "question answered" || entry["success"] != true {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNewDevelopmentWritesTextAtDebug(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "development").Debug("embedding cache hit", "question", "docker")
	if !strings.Contains(buf.String(), "embedding cache hit") || !strings.Contains(buf.String(), "question=docker") {
		t.Fatalf("output = %q", buf.String())
	}
}
