package booking

import (
	"testing"
	"time"
)

func TestRefundAmount(t *testing.T) {
	cases := []struct {
		name    string
		price   int64
		penalty float64
		want    int64
	}{
		{"standard penalty", 10000, 0.10, 9000},
		{"small amount", 100, 0.10, 90},
		{"rounds penalty down", 999, 0.10, 900},
		{"no penalty", 5000, 0, 5000},
		{"discounted fare", 8000, 0.10, 7200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := refundAmount(tc.price, tc.penalty); got != tc.want {
				t.Fatalf("refundAmount(%d, %v) = %d, want %d", tc.price, tc.penalty, got, tc.want)
			}
		})
	}
}

func TestWithinNotice(t *testing.T) {
	departure := time.Date(2026, 9, 20, 10, 0, 0, 0, time.UTC)
	notice := 24 * time.Hour

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"well before the deadline", departure.Add(-48 * time.Hour), true},
		{"exactly at the deadline", departure.Add(-24 * time.Hour), true},
		{"one minute past the deadline", departure.Add(-24*time.Hour + time.Minute), false},
		{"after departure", departure.Add(time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := withinNotice(tc.now, departure, notice); got != tc.want {
				t.Fatalf("withinNotice(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestValidateSeatRange(t *testing.T) {
	if err := validateSeatRange([]int{1, 20, 40}, 40); err != nil {
		t.Fatalf("expected valid seats, got %v", err)
	}
	if err := validateSeatRange([]int{0}, 40); err != ErrBadRequest {
		t.Fatalf("expected ErrBadRequest for seat 0, got %v", err)
	}
	if err := validateSeatRange([]int{41}, 40); err != ErrBadRequest {
		t.Fatalf("expected ErrBadRequest for seat beyond capacity, got %v", err)
	}
}

func TestHasDuplicates(t *testing.T) {
	if hasDuplicates([]int{1, 2, 3}) {
		t.Fatal("expected no duplicates")
	}
	if !hasDuplicates([]int{1, 2, 1}) {
		t.Fatal("expected duplicates")
	}
}
