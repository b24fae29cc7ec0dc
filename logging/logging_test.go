package logging_test

import (
	"testing"

	"github.com/fabfab/aiact-explorer/logging"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := logging.New("loud", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewBuildsConsoleLogger(t *testing.T) {
	logger, err := logging.New("debug", "console")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger")
	}
}

func TestOrNop(t *testing.T) {
	logger := logging.OrNop(nil)
	if logger == nil {
		t.Fatal("expected no-op logger")
	}
	logger.Infow("discarded", "key", "value")
}
