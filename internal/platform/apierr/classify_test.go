package apierr

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestClassifyStringMatching(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limit", errors.New("received 429 rate limit exceeded"), KindRateLimit},
		{"invalid api key", errors.New("incorrect api key provided"), KindInvalidAPIKey},
		{"throttling", errors.New("the model is overloaded, please retry"), KindThrottling},
		{"canceled", errors.New("request was stopped by user"), KindCanceled},
		{"validation", errors.New("invalid request: missing field"), KindValidation},
		{"not found", errors.New("backend not found (404)"), KindBackendMissing},
		{"authz", errors.New("forbidden"), KindAuthz},
		{"unknown", errors.New("something exploded"), KindUnknown},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%q) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyContextCanceled(t *testing.T) {
	t.Parallel()
	if got := Classify(context.Canceled); got != KindCanceled {
		t.Fatalf("Classify(context.Canceled) = %q, want %q", got, KindCanceled)
	}
}

func TestClassifyNilIsUnknown(t *testing.T) {
	t.Parallel()
	if got := Classify(nil); got != KindUnknown {
		t.Fatalf("Classify(nil) = %q, want %q", got, KindUnknown)
	}
}

func TestClassifyPreservesExistingAPIErrorStatus(t *testing.T) {
	t.Parallel()
	ae := New(http.StatusNotFound, "backend_not_found", errors.New("no such chat"))
	if got := Classify(ae); got != KindBackendMissing {
		t.Fatalf("Classify(*Error with 404) = %q, want %q", got, KindBackendMissing)
	}
}

func TestToAPIErrorPassesThroughExisting(t *testing.T) {
	t.Parallel()
	original := New(http.StatusUnauthorized, "authz", errors.New("no access"))
	got := ToAPIError(original)
	if got != original {
		t.Fatalf("ToAPIError should return the same *Error when already typed")
	}
}

func TestToAPIErrorWrapsPlainError(t *testing.T) {
	t.Parallel()
	got := ToAPIError(errors.New("rate limit hit, 429"))
	if got.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", got.Status)
	}
	if got.Code != string(KindRateLimit) {
		t.Fatalf("unexpected code: %q", got.Code)
	}
}

func TestToAPIErrorNil(t *testing.T) {
	t.Parallel()
	if got := ToAPIError(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestKindStatusAndUserPhraseCoverAllKinds(t *testing.T) {
	t.Parallel()
	kinds := []Kind{
		KindRateLimit, KindInvalidAPIKey, KindThrottling, KindValidation,
		KindBackendMissing, KindAuthz, KindCanceled, KindUnknown,
	}
	for _, k := range kinds {
		if k.UserPhrase() == "" {
			t.Fatalf("Kind(%q).UserPhrase() is empty", k)
		}
		if k.Status() == 0 {
			t.Fatalf("Kind(%q).Status() is zero", k)
		}
	}
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	t.Parallel()
	inner := errors.New("boom")
	e := New(http.StatusInternalServerError, "unknown", inner)
	if !errors.Is(e, inner) {
		t.Fatalf("expected errors.Is to unwrap to inner error")
	}
	if e.Error() != "boom" {
		t.Fatalf("unexpected Error() string: %q", e.Error())
	}
}
