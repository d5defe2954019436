package ticketing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deskwing/deskwing/internal/ticketing"
	"github.com/deskwing/deskwing/pkg/models"
)

func TestCreateTicket(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tickets" {
			t.Errorf("request = %s %s, want POST /tickets", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var in models.Ticket
		json.NewDecoder(r.Body).Decode(&in)
		in.ID = "T-100"
		json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	c := ticketing.NewClient(srv.URL, map[string]any{"type": "bearer", "token": "tok"}, srv.Client())
	created, err := c.CreateTicket(context.Background(), &models.Ticket{
		ConversationID: "c1", Subject: "damaged item",
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if created.ID != "T-100" || created.Subject != "damaged item" {
		t.Errorf("created = %+v", created)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestUpdateTicket(t *testing.T) {
	var gotPath, gotMethod string
	var gotUpdate models.TicketUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		json.NewDecoder(r.Body).Decode(&gotUpdate)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := ticketing.NewClient(srv.URL, nil, srv.Client())
	err := c.UpdateTicket(context.Background(), "T-100", &models.TicketUpdate{Status: "pending", Priority: "high"})
	if err != nil {
		t.Fatalf("UpdateTicket() error = %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/tickets/T-100" {
		t.Errorf("request = %s %s, want PATCH /tickets/T-100", gotMethod, gotPath)
	}
	if gotUpdate.Status != "pending" || gotUpdate.Priority != "high" {
		t.Errorf("update = %+v", gotUpdate)
	}
}

func TestGetTicketByConversation_NotFoundIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := ticketing.NewClient(srv.URL, nil, srv.Client())
	ticket, err := c.GetTicketByConversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetTicketByConversation() error = %v, want (nil, nil) on 404", err)
	}
	if ticket != nil {
		t.Errorf("ticket = %+v, want nil", ticket)
	}
}

func TestDo_ErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := ticketing.NewClient(srv.URL, nil, srv.Client())
	_, err := c.GetTicket(context.Background(), "T-1")
	if err == nil {
		t.Fatal("GetTicket() succeeded against a failing backend")
	}
}
