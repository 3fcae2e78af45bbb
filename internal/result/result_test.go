package result

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("creating idea: %w", Wrap(KindFilesystem, cause, "writing %s", "summary.txt"))

	if got := KindOf(err); got != KindFilesystem {
		t.Errorf("KindOf = %v, want %v", got, KindFilesystem)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
	if got := Message(err); got != "writing summary.txt" {
		t.Errorf("Message = %q", got)
	}
}

func TestKindOf_Untagged(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("KindOf = %v, want internal", got)
	}
	if Is(nil, KindInternal) {
		t.Error("nil error must not match any kind")
	}
}

func TestKindString(t *testing.T) {
	if KindPersistence.String() != "persistence" {
		t.Errorf("String = %q", KindPersistence.String())
	}
	if Kind(99).String() != "kind(99)" {
		t.Errorf("String = %q", Kind(99).String())
	}
}
