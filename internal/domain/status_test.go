package domain

import (
	"testing"
	"time"
)

var allListingStatuses = []ListingStatus{
	ListingStatusDraft,
	ListingStatusActive,
	ListingStatusTransactionPending,
	ListingStatusAwaitingShipment,
	ListingStatusShipped,
	ListingStatusDelivered,
	ListingStatusCompleted,
	ListingStatusCancelled,
}

func TestCanTransition_Table(t *testing.T) {
	legal := map[[2]ListingStatus]bool{
		{ListingStatusDraft, ListingStatusActive}:                        true,
		{ListingStatusActive, ListingStatusTransactionPending}:           true,
		{ListingStatusTransactionPending, ListingStatusAwaitingShipment}: true,
		{ListingStatusTransactionPending, ListingStatusActive}:           true,
		{ListingStatusAwaitingShipment, ListingStatusShipped}:            true,
		{ListingStatusShipped, ListingStatusDelivered}:                   true,
		{ListingStatusDelivered, ListingStatusCompleted}:                 true,
		{ListingStatusDraft, ListingStatusCancelled}:                     true,
		{ListingStatusActive, ListingStatusCancelled}:                    true,
	}

	for _, from := range allListingStatuses {
		for _, to := range allListingStatuses {
			want := legal[[2]ListingStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s)=%v, want %v", from, to, got, want)
			}
		}
	}
}

func TestListingStatus_TerminalHasNoEdges(t *testing.T) {
	for _, status := range allListingStatuses {
		if status.Terminal() && len(ListingTransitions[status]) != 0 {
			t.Errorf("terminal status %s must not have outgoing edges", status)
		}
	}
	if !ListingStatusCompleted.Terminal() || !ListingStatusCancelled.Terminal() {
		t.Fatal("Completed and Cancelled must be terminal")
	}
}

func TestListingStatus_EdgesStayInsideStateSet(t *testing.T) {
	for from, targets := range ListingTransitions {
		if !from.Valid() {
			t.Errorf("unknown source status %q", from)
		}
		for _, to := range targets {
			if !to.Valid() {
				t.Errorf("unknown target status %q from %s", to, from)
			}
		}
	}
	if ListingStatus("Sold").Valid() {
		t.Fatal("unexpected status accepted")
	}
}

func TestListingStatus_Locked(t *testing.T) {
	locked := map[ListingStatus]bool{
		ListingStatusTransactionPending: true,
		ListingStatusAwaitingShipment:   true,
		ListingStatusShipped:            true,
		ListingStatusDelivered:          true,
	}
	for _, status := range allListingStatuses {
		if got := status.Locked(); got != locked[status] {
			t.Errorf("%s.Locked()=%v, want %v", status, got, locked[status])
		}
	}
}

func TestOrderSteps_FollowListingEdges(t *testing.T) {
	for step := range orderSteps {
		tr, ok := TransitionFor(step, "order-1", time.Time{})
		if !ok {
			t.Fatalf("step %s not found", step)
		}
		if !CanTransition(tr.FromListing, tr.ToListing) {
			t.Errorf("step %s uses illegal listing edge %s -> %s", step, tr.FromListing, tr.ToListing)
		}
		if ListingStatusFor(tr.FromOrder) != tr.FromListing {
			t.Errorf("step %s: order source %s does not mirror listing %s", step, tr.FromOrder, tr.FromListing)
		}
		if ListingStatusFor(tr.ToOrder) != tr.ToListing {
			t.Errorf("step %s: order target %s does not mirror listing %s", step, tr.ToOrder, tr.ToListing)
		}
	}

	if _, ok := TransitionFor(OrderStep("refund"), "order-1", time.Time{}); ok {
		t.Fatal("unknown step must not resolve")
	}
}

func TestOrderStatus_Live(t *testing.T) {
	if OrderStatusAbandoned.Live() || OrderStatusCompleted.Live() {
		t.Fatal("abandoned and completed orders are not live")
	}
	if !OrderStatusTransactionPending.Live() || !OrderStatusDelivered.Live() {
		t.Fatal("pending and delivered orders are live")
	}
	if OrderStatusUnknown.Valid() {
		t.Fatal("Unknown is a display value and must not be stored")
	}
}
