package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{name: "identical vectors", a: []float64{3, 4}, b: []float64{3, 4}, want: 1},
		{name: "known angle", a: []float64{3, 4}, b: []float64{4, 3}, want: 0.96},
		{name: "orthogonal vectors", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "opposed vectors clamp to zero", a: []float64{1, 0}, b: []float64{-1, 0}, want: 0},
		{name: "unequal dimension", a: []float64{1, 0}, b: []float64{1, 0, 0}, want: 0},
		{name: "empty probe", a: nil, b: []float64{1, 0}, want: 0},
		{name: "zero magnitude", a: []float64{0, 0}, b: []float64{1, 0}, want: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CosineSimilarity(tc.a, tc.b); got != tc.want {
				t.Fatalf("CosineSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestCartTotal(t *testing.T) {
	t.Parallel()

	if got := CartTotal(nil); got != 0 {
		t.Fatalf("empty cart total = %d, want 0", got)
	}

	lines := []CartLine{
		{LineID: uuid.New(), Quantity: 2, UnitPrice: 1500},
		{LineID: uuid.New(), Quantity: 1, UnitPrice: 250},
		{LineID: uuid.New(), Quantity: 3, UnitPrice: 100},
	}
	if got := CartTotal(lines); got != 3550 {
		t.Fatalf("cart total = %d, want 3550", got)
	}
}

func TestTerminalStatusPredicates(t *testing.T) {
	t.Parallel()

	for _, status := range []string{SessionSettled, SessionAbandoned, SessionExpired} {
		if !SessionTerminal(status) {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []string{SessionOpen, SessionAwaitingPayment} {
		if SessionTerminal(status) {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}

	for _, status := range []string{IntentSucceeded, IntentFailed, IntentExpired} {
		if !IntentTerminal(status) {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []string{IntentCreated, IntentSubmitted, IntentPendingConfirmation} {
		if IntentTerminal(status) {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}
