package statemachine_test

import (
	"testing"

	"github.com/deskwing/deskwing/internal/statemachine"
	"github.com/deskwing/deskwing/pkg/models"
)

func TestResolveTargetState_EscalationWins(t *testing.T) {
	for _, s := range models.AllStates {
		got := statemachine.ResolveTargetState(s, "greeting", true)
		if got != models.StateEscalated {
			t.Errorf("ResolveTargetState(%s, _, true) = %s, want ESCALATED", s, got)
		}
	}
}

func TestResolveTargetState_IntentTable(t *testing.T) {
	cases := []struct {
		intent string
		want   models.ConversationState
	}{
		{"greeting", models.StateActiveQA},
		{"general_question", models.StateActiveQA},
		{"order_status", models.StateOrderInquiry},
		{"damaged_item", models.StateOrderInquiry},
		{"tracking", models.StateShipmentTracking},
		{"failed_delivery", models.StateShipmentTracking},
		{"return_request", models.StateReturnRefund},
		{"refund_mismatch", models.StateReturnRefund},
		{"product_search", models.StateProductInquiry},
		{"pricing", models.StateProductInquiry},
		{"demo_booking", models.StateMeetingBooking},
		{"app_issue", models.StateSupportTriage},
		{"warranty", models.StateSupportTriage},
		{"goodbye", models.StateResolved},
		{"issue_resolved", models.StateResolved},
		{"complaint", models.StateEscalated},
		{"discount_request", models.StateEscalated},
	}
	for _, tc := range cases {
		got := statemachine.ResolveTargetState(models.StateNew, tc.intent, false)
		if got != tc.want {
			t.Errorf("ResolveTargetState(NEW, %q, false) = %s, want %s", tc.intent, got, tc.want)
		}
	}
}

func TestResolveTargetState_UnknownIntentStays(t *testing.T) {
	got := statemachine.ResolveTargetState(models.StateOrderInquiry, "quantum_flux", false)
	if got != models.StateOrderInquiry {
		t.Errorf("unknown intent: got %s, want ORDER_INQUIRY", got)
	}
}

func TestTransition_NoOpIdempotence(t *testing.T) {
	for _, s := range models.AllStates {
		res := statemachine.Transition("c1", s, s, "greeting")
		if res.Outcome != statemachine.NoOp {
			t.Errorf("Transition(%s→%s) outcome = %s, want noop", s, s, res.Outcome)
		}
		if res.NewState != s {
			t.Errorf("Transition(%s→%s) state = %s, want unchanged", s, s, res.NewState)
		}
		if res.Event != nil {
			t.Errorf("Transition(%s→%s) emitted an event on no-op", s, s)
		}
	}
}

func TestTransition_RejectedEdgePreservesState(t *testing.T) {
	// NEW→RESOLVED is not declared; it must go through a working state.
	res := statemachine.Transition("c1", models.StateNew, models.StateResolved, "goodbye")
	if res.Outcome != statemachine.Rejected {
		t.Fatalf("NEW→RESOLVED outcome = %s, want rejected", res.Outcome)
	}
	if res.NewState != models.StateNew {
		t.Errorf("NEW→RESOLVED state = %s, want NEW", res.NewState)
	}
	if res.Event != nil {
		t.Error("rejected transition emitted an event")
	}

	// Stepwise path NEW→ACTIVE_QA→RESOLVED succeeds.
	step1 := statemachine.Transition("c1", models.StateNew, models.StateActiveQA, "greeting")
	if step1.Outcome != statemachine.Accepted {
		t.Fatalf("NEW→ACTIVE_QA outcome = %s, want accepted", step1.Outcome)
	}
	step2 := statemachine.Transition("c1", step1.NewState, models.StateResolved, "goodbye")
	if step2.Outcome != statemachine.Accepted {
		t.Fatalf("ACTIVE_QA→RESOLVED outcome = %s, want accepted", step2.Outcome)
	}
}

func TestTransition_AcceptedEmitsEvent(t *testing.T) {
	res := statemachine.Transition("c42", models.StateNew, models.StateReturnRefund, "return_request")
	if res.Outcome != statemachine.Accepted {
		t.Fatalf("outcome = %s, want accepted", res.Outcome)
	}
	ev := res.Event
	if ev == nil {
		t.Fatal("accepted transition did not emit an event")
	}
	if ev.From != models.StateNew || ev.To != models.StateReturnRefund {
		t.Errorf("event = %s→%s, want NEW→RETURN_REFUND", ev.From, ev.To)
	}
	if ev.Intent != "return_request" {
		t.Errorf("event intent = %q, want return_request", ev.Intent)
	}
	if ev.ConversationID != "c42" {
		t.Errorf("event conversation = %q, want c42", ev.ConversationID)
	}
	if ev.Timestamp.IsZero() {
		t.Error("event timestamp is zero")
	}
}

func TestTransition_ResolvedReopens(t *testing.T) {
	reopen := []models.ConversationState{
		models.StateActiveQA, models.StateOrderInquiry, models.StateShipmentTracking,
		models.StateReturnRefund, models.StateProductInquiry, models.StateLeadQualification,
		models.StateMeetingBooking, models.StateSupportTriage,
	}
	for _, target := range reopen {
		res := statemachine.Transition("c1", models.StateResolved, target, "order_status")
		if res.Outcome != statemachine.Accepted {
			t.Errorf("RESOLVED→%s outcome = %s, want accepted", target, res.Outcome)
		}
	}

	// Direct RESOLVED→ESCALATED is not a declared edge.
	res := statemachine.Transition("c1", models.StateResolved, models.StateEscalated, "complaint")
	if res.Outcome != statemachine.Rejected {
		t.Errorf("RESOLVED→ESCALATED outcome = %s, want rejected", res.Outcome)
	}
}

func TestTransition_EscalatedIsTerminal(t *testing.T) {
	for _, target := range models.AllStates {
		if target == models.StateEscalated {
			continue
		}
		res := statemachine.Transition("c1", models.StateEscalated, target, "greeting")
		if res.Outcome != statemachine.Rejected {
			t.Errorf("ESCALATED→%s outcome = %s, want rejected", target, res.Outcome)
		}
		if res.NewState != models.StateEscalated {
			t.Errorf("ESCALATED→%s left terminal state", target)
		}
	}
}

func TestScenario_ReturnRequestFromNew(t *testing.T) {
	// "I want to return my order Q123" on NEW with intent return_request.
	target := statemachine.ResolveTargetState(models.StateNew, "return_request", false)
	if target != models.StateReturnRefund {
		t.Fatalf("target = %s, want RETURN_REFUND", target)
	}
	res := statemachine.Transition("q123", models.StateNew, target, "return_request")
	if res.Outcome != statemachine.Accepted || res.NewState != models.StateReturnRefund {
		t.Fatalf("transition = (%s, %s), want (accepted, RETURN_REFUND)", res.Outcome, res.NewState)
	}
}

func TestScenario_EscalatedStaysEscalated(t *testing.T) {
	target := statemachine.ResolveTargetState(models.StateEscalated, "order_status", true)
	if target != models.StateEscalated {
		t.Fatalf("target = %s, want ESCALATED", target)
	}
	res := statemachine.Transition("c1", models.StateEscalated, target, "order_status")
	if res.Outcome != statemachine.NoOp || res.NewState != models.StateEscalated {
		t.Fatalf("transition = (%s, %s), want (noop, ESCALATED)", res.Outcome, res.NewState)
	}
}
