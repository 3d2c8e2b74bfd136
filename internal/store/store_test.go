package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("create sale: %w", &InsufficientStockError{ProductName: "Cola Can 330ml", Available: 2, Required: 5})

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected wrapped shortfall to match sentinel")
	}

	var shortfall *InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected errors.As to recover typed error")
	}
	if shortfall.Available != 2 || shortfall.Required != 5 {
		t.Fatalf("unexpected detail: %+v", shortfall)
	}

	want := "insufficient stock for Cola Can 330ml: available 2, required 5"
	if shortfall.Error() != want {
		t.Fatalf("expected %q, got %q", want, shortfall.Error())
	}
}
