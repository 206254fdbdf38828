package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/shopvox/pkg/provider/productsearch"
	searchmock "github.com/MrWong99/shopvox/pkg/provider/productsearch/mock"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
	transcribemock "github.com/MrWong99/shopvox/pkg/provider/transcribe/mock"
	"github.com/MrWong99/shopvox/pkg/types"
)

func TestTranscribeFallback_PrimarySuccess(t *testing.T) {
	primary := &transcribemock.Provider{Transcript: transcribe.Transcript{Text: "red shoes"}}
	secondary := &transcribemock.Provider{}

	fb := NewTranscribeFallback(primary, "service", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	tr, err := fb.Transcribe(context.Background(), transcribe.Audio{Data: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "red shoes" {
		t.Errorf("Text = %q", tr.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Errorf("calls = %d/%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
}

func TestTranscribeFallback_Failover(t *testing.T) {
	primary := &transcribemock.Provider{Err: transcribe.ErrTranscriptionFailed}
	secondary := &transcribemock.Provider{Transcript: transcribe.Transcript{Text: "laptop"}}

	fb := NewTranscribeFallback(primary, "service", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	tr, err := fb.Transcribe(context.Background(), transcribe.Audio{Data: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "laptop" {
		t.Errorf("Text = %q, want laptop", tr.Text)
	}
}

func TestTranscribeFallback_EmptyTranscriptIsFinal(t *testing.T) {
	primary := &transcribemock.Provider{Err: transcribe.ErrEmptyTranscript}
	secondary := &transcribemock.Provider{Transcript: transcribe.Transcript{Text: "never"}}

	fb := NewTranscribeFallback(primary, "service", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("whisper", secondary)

	for range 3 {
		_, err := fb.Transcribe(context.Background(), transcribe.Audio{Data: []byte{1}})
		if !errors.Is(err, transcribe.ErrEmptyTranscript) {
			t.Fatalf("err = %v, want ErrEmptyTranscript", err)
		}
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
	if primary.CallCount() != 3 {
		t.Errorf("primary called %d times, want 3 (breaker must stay closed)", primary.CallCount())
	}
}

func TestTranscribeFallback_AllFail(t *testing.T) {
	boom := errors.New("connection refused")
	fb := NewTranscribeFallback(&transcribemock.Provider{Err: boom}, "service", FallbackConfig{})
	_, err := fb.Transcribe(context.Background(), transcribe.Audio{})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, transcribe.ErrTranscriptionFailed) {
		t.Fatalf("err = %v, want ErrAllFailed and ErrTranscriptionFailed", err)
	}
}

func TestSearchBreaker_OpensAndFailsFast(t *testing.T) {
	clk := newFakeClock()
	inner := &searchmock.Provider{Err: errTest}
	sb := NewSearchBreaker(inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, Now: clk.Now})

	for range 2 {
		if _, err := sb.Search(context.Background(), productsearch.Request{}); !errors.Is(err, errTest) {
			t.Fatalf("err = %v, want errTest", err)
		}
	}
	if sb.State() != StateOpen {
		t.Fatalf("state = %v, want open", sb.State())
	}
	if _, err := sb.Search(context.Background(), productsearch.Request{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.CallCount() != 2 {
		t.Errorf("inner calls = %d, want 2", inner.CallCount())
	}

	clk.Advance(time.Minute)
	inner.Err = nil
	inner.Response = productsearch.Response{Products: []types.Product{{ID: "1"}}}
	resp, err := sb.Search(context.Background(), productsearch.Request{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if len(resp.Products) != 1 || sb.State() != StateClosed {
		t.Errorf("products = %d, state = %v; want 1, closed", len(resp.Products), sb.State())
	}
}

func TestSearchBreaker_CancelledContextNotCounted(t *testing.T) {
	inner := &searchmock.Provider{Err: context.Canceled}
	sb := NewSearchBreaker(inner, CircuitBreakerConfig{MaxFailures: 1})
	for range 3 {
		_, _ = sb.Search(context.Background(), productsearch.Request{})
	}
	if sb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", sb.State())
	}
}
