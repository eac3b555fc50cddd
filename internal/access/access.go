// Package access holds the ownership and role checks shared by handlers.
package access

import "process-calendar-api/internal/model"

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Admin  bool
}

// CanViewEvent: creator, any participant, or an admin.
func CanViewEvent(a Actor, e *model.Event) bool {
	if a.Admin || e.CreatorID == a.UserID {
		return true
	}
	_, ok := e.Participant(a.UserID)
	return ok
}

// CanEditEvent: creator, owner/editor participants, or an admin.
func CanEditEvent(a Actor, e *model.Event) bool {
	if a.Admin || e.CreatorID == a.UserID {
		return true
	}
	p, ok := e.Participant(a.UserID)
	if !ok {
		return false
	}
	return p.Role == model.ParticipantOwner || p.Role == model.ParticipantEditor
}

// CanDeleteEvent: only the creator or an admin.
func CanDeleteEvent(a Actor, e *model.Event) bool {
	return a.Admin || e.CreatorID == a.UserID
}

// CanViewProcess: templates are public; other processes belong to their owner.
// Processes attached to an event are also visible to its participants, which
// the caller checks separately with attachedTo.
func CanViewProcess(a Actor, p *model.Process, attachedTo []*model.Event) bool {
	if p.IsTemplate || a.Admin || p.OwnerID == a.UserID {
		return true
	}
	for _, e := range attachedTo {
		if CanViewEvent(a, e) {
			return true
		}
	}
	return false
}

// CanEditProcess: owner or admin; editors of an attached event may tick
// steps but not restructure the process.
func CanEditProcess(a Actor, p *model.Process) bool {
	return a.Admin || p.OwnerID == a.UserID
}

// CanCompleteSteps allows owners plus editors of any attached event.
func CanCompleteSteps(a Actor, p *model.Process, attachedTo []*model.Event) bool {
	if CanEditProcess(a, p) {
		return true
	}
	for _, e := range attachedTo {
		if CanEditEvent(a, e) {
			return true
		}
	}
	return false
}

func CanEditPost(a Actor, p *model.Post) bool {
	return a.Admin || p.AuthorID == a.UserID
}
