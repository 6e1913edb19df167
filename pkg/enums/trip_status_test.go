package enums

import "testing"

func TestTripProgressionOrder(t *testing.T) {
	want := []TripStatus{
		"accepted", "loading", "loaded", "in_transit",
		"delivered_pending_confirmation", "delivered", "completed",
	}
	got := TripProgression()
	if len(got) != len(want) {
		t.Fatalf("expected %d states, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s got %s", i, want[i], got[i])
		}
		if got[i].Rank() != i {
			t.Fatalf("rank of %s expected %d got %d", got[i], i, got[i].Rank())
		}
	}

	got[0] = TripStatusCompleted
	if TripProgression()[0] != TripStatusAccepted {
		t.Fatal("TripProgression must return a copy")
	}
}

func TestTripStatusPredicates(t *testing.T) {
	if !TripStatusCompleted.IsTerminal() || !TripStatusCancelled.IsTerminal() {
		t.Fatal("completed and cancelled are terminal")
	}
	if TripStatusDeliveredPendingConfirmation.IsTerminal() {
		t.Fatal("pending confirmation is soft-terminal only")
	}
	if !TripStatusInTransit.IsActive() || TripStatusCancelled.IsActive() {
		t.Fatal("unexpected IsActive result")
	}
	if !TripStatusLoaded.IsAfter(TripStatusLoading) || TripStatusLoading.IsAfter(TripStatusLoading) {
		t.Fatal("IsAfter must be strict")
	}
	if TripStatusCancelled.IsAfter(TripStatusAccepted) {
		t.Fatal("cancelled is outside the progression")
	}
	if !TripStatusDelivered.AtLeast(TripStatusDelivered) || TripStatusInTransit.AtLeast(TripStatusDelivered) {
		t.Fatal("unexpected AtLeast result")
	}
	if TripStatus("teleported").IsValid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestMaxTripStatus(t *testing.T) {
	tests := []struct {
		a, b TripStatus
		want TripStatus
	}{
		{TripStatusInTransit, TripStatusDelivered, TripStatusDelivered},
		{TripStatusDelivered, TripStatusInTransit, TripStatusDelivered},
		{TripStatusLoading, "", TripStatusLoading},
		{"", TripStatusLoaded, TripStatusLoaded},
		{TripStatusCancelled, TripStatusInTransit, TripStatusCancelled},
		{TripStatusInTransit, TripStatusCancelled, TripStatusCancelled},
		{TripStatusCancelled, TripStatusCompleted, TripStatusCompleted},
		{TripStatusAccepted, TripStatusAccepted, TripStatusAccepted},
	}
	for _, tt := range tests {
		if got := MaxTripStatus(tt.a, tt.b); got != tt.want {
			t.Fatalf("MaxTripStatus(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseTripStatus(t *testing.T) {
	if s, err := ParseTripStatus("in_transit"); err != nil || s != TripStatusInTransit {
		t.Fatalf("unexpected parse result %q %v", s, err)
	}
	if _, err := ParseTripStatus("IN_TRANSIT"); err == nil {
		t.Fatal("expected case-sensitive parse failure")
	}
}
