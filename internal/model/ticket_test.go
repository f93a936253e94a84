package model

import (
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func statusPtr(s TicketStatus) *TicketStatus { return &s }

func TestTicketStatus_Valid(t *testing.T) {
	for _, s := range TicketStatuses {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []TicketStatus{"", "OPEN", "done", "in-progress"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestTicketInput_Validate(t *testing.T) {
	tests := []struct {
		name     string
		input    TicketInput
		wantCode string
	}{
		{"valid", TicketInput{Title: "a", Status: TicketStatusOpen}, ""},
		{"max lengths in runes", TicketInput{
			Title:       strings.Repeat("あ", MaxTitleLength),
			Description: strings.Repeat("い", MaxDescriptionLength),
			Status:      TicketStatusClosed,
		}, ""},
		{"empty title", TicketInput{Status: TicketStatusOpen}, ErrCodeValidation},
		{"title too long", TicketInput{Title: strings.Repeat("a", MaxTitleLength+1), Status: TicketStatusOpen}, ErrCodeValidation},
		{"description too long", TicketInput{Title: "a", Description: strings.Repeat("a", MaxDescriptionLength+1), Status: TicketStatusOpen}, ErrCodeValidation},
		{"unknown status", TicketInput{Title: "a", Status: "done"}, ErrCodeInvalidStatus},
		{"invalid utf-8 title", TicketInput{Title: "bad\xffbyte", Status: TicketStatusOpen}, ErrCodeValidation},
		{"invalid utf-8 description", TicketInput{Title: "a", Description: "\xc3\x28", Status: TicketStatusOpen}, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !HasCode(err, tt.wantCode) {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestTicketPatch_Validate(t *testing.T) {
	tests := []struct {
		name     string
		patch    TicketPatch
		wantCode string
	}{
		{"empty patch", TicketPatch{}, ""},
		{"status only", TicketPatch{Status: statusPtr(TicketStatusClosed)}, ""},
		{"empty description allowed", TicketPatch{Description: strPtr("")}, ""},
		{"empty title", TicketPatch{Title: strPtr("")}, ErrCodeValidation},
		{"bad status", TicketPatch{Status: statusPtr("archived")}, ErrCodeInvalidStatus},
		{"invalid utf-8 title", TicketPatch{Title: strPtr("\xff")}, ErrCodeValidation},
		{"invalid utf-8 description", TicketPatch{Description: strPtr("ok\xfe")}, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !HasCode(err, tt.wantCode) {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestTicket_Validate(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := Ticket{ID: "a", Title: "t", Status: TicketStatusOpen, CreatedAt: created, UpdatedAt: created}

	tests := []struct {
		name     string
		mutate   func(*Ticket)
		wantCode string
	}{
		{"valid", func(*Ticket) {}, ""},
		{"later update", func(tk *Ticket) { tk.UpdatedAt = created.Add(time.Millisecond) }, ""},
		{"empty id", func(tk *Ticket) { tk.ID = "" }, ErrCodeValidation},
		{"empty title", func(tk *Ticket) { tk.Title = "" }, ErrCodeValidation},
		{"unknown status", func(tk *Ticket) { tk.Status = "bogus" }, ErrCodeInvalidStatus},
		{"updatedAt before createdAt", func(tk *Ticket) { tk.UpdatedAt = created.Add(-time.Second) }, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := valid
			tt.mutate(&tk)
			err := tk.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !HasCode(err, tt.wantCode) {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestTicketPatch_Apply(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := Ticket{ID: "t1", Title: "old", Description: "desc", Status: TicketStatusOpen, CreatedAt: now, UpdatedAt: now}

	got := TicketPatch{Title: strPtr("new"), Status: statusPtr(TicketStatusInProgress)}.Apply(orig)

	if got.Title != "new" || got.Status != TicketStatusInProgress {
		t.Errorf("patched fields not applied: %+v", got)
	}
	if got.Description != "desc" || got.ID != "t1" {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if orig.Title != "old" {
		t.Error("Apply must not modify the original ticket")
	}
	if !(TicketPatch{}).IsEmpty() || (TicketPatch{Title: strPtr("x")}).IsEmpty() {
		t.Error("IsEmpty mismatch")
	}
}
