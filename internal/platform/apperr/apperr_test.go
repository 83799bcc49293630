package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("bad input")
	perm := Permanent(base)
	if !IsPermanent(perm) {
		t.Fatal("Permanent(err) should be permanent")
	}
	if !errors.Is(perm, base) {
		t.Fatal("Permanent should unwrap to the original error")
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should stay nil")
	}
	if IsPermanent(nil) {
		t.Fatal("nil is not permanent")
	}
}

func TestIsPermanentThroughWrapping(t *testing.T) {
	inner := Permanentf("segment %d rejected", 3)
	wrapped := fmt.Errorf("recognize: %w", inner)
	if !IsPermanent(wrapped) {
		t.Fatal("IsPermanent should see through fmt.Errorf wrapping")
	}
}

func TestTransientIsNotPermanent(t *testing.T) {
	if IsPermanent(errors.New("timeout")) {
		t.Fatal("plain errors are retryable")
	}
	if IsPermanent(ErrQuotaExhausted) {
		t.Fatal("sentinels are not permanent processing errors")
	}
}
