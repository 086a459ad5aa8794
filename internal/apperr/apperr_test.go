package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestDeniedMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Denied("delete product"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected %v to match ErrPermissionDenied", err)
	}
	if KindOf(err) != KindPermissionDenied {
		t.Fatalf("KindOf() = %q", KindOf(err))
	}
}

func TestDataErrorCarriesBackendDetail(t *testing.T) {
	backendErr := errors.New("duplicate key value violates unique constraint")
	err := Data("insert products", backendErr)
	if Detail(err) != backendErr.Error() {
		t.Fatalf("Detail() = %q", Detail(err))
	}
	if !errors.Is(err, backendErr) {
		t.Fatal("expected data error to unwrap to the backend error")
	}
	if errors.Is(err, ErrPermissionDenied) {
		t.Fatal("data error must not match permission denied")
	}
}

func TestDetailFallsBack(t *testing.T) {
	if Detail(nil) != "" {
		t.Fatal("expected empty detail for nil")
	}
	if got := Detail(&Error{Kind: KindAuth, Err: errors.New("boom")}); got != "boom" {
		t.Fatalf("Detail() = %q", got)
	}
}
