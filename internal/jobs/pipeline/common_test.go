package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
)

func TestSegmentBounds(t *testing.T) {
	start, end := segmentBounds(0, 150, 60)
	if start != 0 || end != 60 {
		t.Fatalf("segment 0 bounds = (%v, %v), want (0, 60)", start, end)
	}
	start, end = segmentBounds(2, 150, 60)
	if start != 120 || end != 150 {
		t.Fatalf("last segment bounds = (%v, %v), want (120, 150)", start, end)
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	in := fragment{StartSec: 60, EndSec: 120, Text: "some text"}
	out, err := decodeFragment(encodeFragment(in))
	if err != nil {
		t.Fatalf("decode fragment: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if _, err := decodeFragment("{not json"); err == nil {
		t.Fatal("expected error for malformed fragment")
	}
}

func TestRecognizeWithRetrySuccess(t *testing.T) {
	calls := 0
	text, err := recognizeWithRetry(context.Background(), func(ctx context.Context, startSec, endSec float64) (string, error) {
		calls++
		return "ok", nil
	}, 0, 60)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if text != "ok" || calls != 1 {
		t.Fatalf("text=%q calls=%d, want ok/1", text, calls)
	}
}

func TestRecognizeWithRetryPermanentFailsFast(t *testing.T) {
	calls := 0
	_, err := recognizeWithRetry(context.Background(), func(ctx context.Context, startSec, endSec float64) (string, error) {
		calls++
		return "", apperr.Permanentf("bad source")
	}, 0, 60)
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestRecognizeWithRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	text, err := recognizeWithRetry(context.Background(), func(ctx context.Context, startSec, endSec float64) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "recovered", nil
	}, 0, 60)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if text != "recovered" || calls != 2 {
		t.Fatalf("text=%q calls=%d, want recovered/2", text, calls)
	}
}

func TestRecognizeWithRetryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := recognizeWithRetry(ctx, func(ctx context.Context, startSec, endSec float64) (string, error) {
		t.Fatal("recognize must not run on a canceled context")
		return "", nil
	}, 0, 60)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
