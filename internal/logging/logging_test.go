// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := New(false, false, &buf)

	log.Debug("hidden")
	log.Info("shown", zap.String("model", "llama3.2"))
	_ = log.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "shown") || !strings.Contains(out, `"model": "llama3.2"`) {
		t.Errorf("output = %q", out)
	}
}

func TestNew_Debug(t *testing.T) {
	var buf bytes.Buffer
	log := New(true, false, &buf)

	log.Debug("visible")
	_ = log.Sync()

	if !strings.Contains(buf.String(), "DEBUG") {
		t.Errorf("output = %q, want DEBUG line", buf.String())
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
