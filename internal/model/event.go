package model

import "time"

const (
	EventScheduled  = "scheduled"
	EventInProgress = "in_progress"
	EventCompleted  = "completed"
	EventCancelled  = "cancelled"
)

const (
	ParticipantOwner  = "owner"
	ParticipantEditor = "editor"
	ParticipantViewer = "viewer"
)

const (
	RSVPInvited  = "invited"
	RSVPAccepted = "accepted"
	RSVPDeclined = "declined"
)

type Event struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Location     string         `json:"location"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      time.Time      `json:"endTime"`
	Status       string         `json:"status"`
	CreatorID    string         `json:"creatorId"`
	ProcessID    *string        `json:"processId"`
	TopicID      *string        `json:"topicId"`
	Metadata     map[string]any `json:"metadata"`
	Participants []Participant  `json:"participants"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type Participant struct {
	EventID  string    `json:"eventId"`
	UserID   string    `json:"userId"`
	Name     string    `json:"name,omitempty"`
	Email    string    `json:"email,omitempty"`
	Role     string    `json:"role"`
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Participant returns the entry for userID, if any.
func (e *Event) Participant(userID string) (Participant, bool) {
	for _, p := range e.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func ValidEventStatus(s string) bool {
	switch s {
	case EventScheduled, EventInProgress, EventCompleted, EventCancelled:
		return true
	}
	return false
}

func ValidParticipantRole(r string) bool {
	switch r {
	case ParticipantOwner, ParticipantEditor, ParticipantViewer:
		return true
	}
	return false
}

func ValidRSVP(s string) bool {
	switch s {
	case RSVPInvited, RSVPAccepted, RSVPDeclined:
		return true
	}
	return false
}
