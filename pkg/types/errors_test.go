package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	err := NewError(CodeNotFound, "branch %q not found", "main")
	if !IsNotFound(err) {
		t.Error("IsNotFound false for NOT_FOUND error")
	}
	if err.Status != 404 {
		t.Errorf("status %d, want 404", err.Status)
	}
	if CodeOf(err) != CodeNotFound {
		t.Errorf("CodeOf = %s", CodeOf(err))
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk on fire")
	err := WrapError(CodeUnavailable, cause, "backend failed")
	wrapped := fmt.Errorf("failed to commit: %w", err)

	if CodeOf(wrapped) != CodeUnavailable {
		t.Errorf("CodeOf through wrap = %s", CodeOf(wrapped))
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause lost through wrapping")
	}
	if !CodeUnavailable.Retryable() {
		t.Error("UNAVAILABLE must be retryable")
	}
	if CodeReferenceConflict.Retryable() {
		t.Error("REFERENCE_CONFLICT must not be retryable")
	}
}

func TestCodeOfUncoded(t *testing.T) {
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Error("uncoded errors must default to INTERNAL")
	}
}

func TestConflictAggregation(t *testing.T) {
	err := NewError(CodeContentConflict, "2 conflicts detected").
		WithConflicts(
			Conflict{Key: NewKey("a"), Kind: ConflictPayloadDiffers},
			Conflict{Key: NewKey("b"), Kind: ConflictKeyExists, Message: "create on existing key"},
		)

	got := ConflictsOf(fmt.Errorf("merge: %w", err))
	if len(got) != 2 {
		t.Fatalf("got %d conflicts, want 2", len(got))
	}
	if got[0].Kind != ConflictPayloadDiffers || !got[0].Key.Equal(NewKey("a")) {
		t.Errorf("first conflict wrong: %+v", got[0])
	}
	if !strings.Contains(err.Error(), "KEY_EXISTS b") {
		t.Errorf("conflicts missing from message: %s", err.Error())
	}
}

func TestErrorReason(t *testing.T) {
	err := NewError(CodeNotFound, "no snapshot").WithReason("Not a table")
	if !strings.Contains(err.Error(), "(Not a table)") {
		t.Errorf("reason missing: %s", err.Error())
	}
}
