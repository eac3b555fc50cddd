package access

import (
	"testing"

	"process-calendar-api/internal/model"
)

func event() *model.Event {
	return &model.Event{
		ID:        "e1",
		CreatorID: "creator",
		Participants: []model.Participant{
			{UserID: "creator", Role: model.ParticipantOwner},
			{UserID: "ed", Role: model.ParticipantEditor},
			{UserID: "viewer", Role: model.ParticipantViewer},
		},
	}
}

func TestEventPermissions(t *testing.T) {
	tests := []struct {
		name                   string
		actor                  Actor
		view, edit, deleteable bool
	}{
		{"creator", Actor{UserID: "creator"}, true, true, true},
		{"editor", Actor{UserID: "ed"}, true, true, false},
		{"viewer", Actor{UserID: "viewer"}, true, false, false},
		{"stranger", Actor{UserID: "nobody"}, false, false, false},
		{"admin", Actor{UserID: "root", Admin: true}, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := event()
			if got := CanViewEvent(tt.actor, e); got != tt.view {
				t.Errorf("view: got %v want %v", got, tt.view)
			}
			if got := CanEditEvent(tt.actor, e); got != tt.edit {
				t.Errorf("edit: got %v want %v", got, tt.edit)
			}
			if got := CanDeleteEvent(tt.actor, e); got != tt.deleteable {
				t.Errorf("delete: got %v want %v", got, tt.deleteable)
			}
		})
	}
}

func TestProcessPermissions(t *testing.T) {
	owned := &model.Process{ID: "p1", OwnerID: "owner"}
	tmpl := &model.Process{ID: "t1", OwnerID: "owner", IsTemplate: true}
	attached := []*model.Event{event()}

	if !CanViewProcess(Actor{UserID: "anyone"}, tmpl, nil) {
		t.Error("templates should be visible to everyone")
	}
	if CanViewProcess(Actor{UserID: "anyone"}, owned, nil) {
		t.Error("private process visible to stranger")
	}
	if !CanViewProcess(Actor{UserID: "viewer"}, owned, attached) {
		t.Error("event participant should see the attached process")
	}
	if CanEditProcess(Actor{UserID: "ed"}, owned) {
		t.Error("event editor must not restructure the process")
	}
	if !CanCompleteSteps(Actor{UserID: "ed"}, owned, attached) {
		t.Error("event editor should be able to complete steps")
	}
	if CanCompleteSteps(Actor{UserID: "viewer"}, owned, attached) {
		t.Error("viewer must not complete steps")
	}
}
