package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestColorTextHandlerQualifiesGroupedKeys(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, false)
	log := slog.New(h).WithGroup("download").With("content_id", "c1")

	log.Info("streamed", "bytes", 42)

	line := buf.String()
	if !strings.Contains(line, "download.content_id=c1") {
		t.Errorf("pre-bound attr not group-qualified: %q", line)
	}
	if !strings.Contains(line, "download.bytes=42") {
		t.Errorf("record attr not group-qualified: %q", line)
	}
}

func TestColorTextHandlerNestedGroups(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, false)
	log := slog.New(h).WithGroup("hub").WithGroup("fanout")

	log.Info("dropped", "peer", "p1")

	if line := buf.String(); !strings.Contains(line, "hub.fanout.peer=p1") {
		t.Errorf("nested groups not flattened into dotted keys: %q", line)
	}
}

func TestColorTextHandlerEmptyGroupIsNoOp(t *testing.T) {
	h := NewColorTextHandler(&bytes.Buffer{}, nil, false)
	if h.WithGroup("") != slog.Handler(h) {
		t.Error("empty group name should return the receiver")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default handler should log at INFO")
	}
}
