package logging

import "testing"

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestNewAcceptsLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "INFO", "warn", "error"} {
		logger, err := New(level)
		if err != nil {
			t.Fatalf("New(%q) error = %v", level, err)
		}
		_ = logger.Sync()
	}
}
