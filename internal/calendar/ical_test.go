package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"process-calendar-api/internal/model"
)

func TestEncodeEvents(t *testing.T) {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	events := []*model.Event{
		{
			ID: "e1", Title: "Kickoff", Description: "first, meeting", Location: "Room 1",
			StartTime: start, EndTime: start.Add(time.Hour), Status: model.EventScheduled,
			CreatorID: "u1", UpdatedAt: start,
			Participants: []model.Participant{
				{UserID: "u1", Name: "Ada", Email: "ada@example.com", Role: model.ParticipantOwner, Status: model.RSVPAccepted},
				{UserID: "u2", Name: "Bob", Email: "bob@example.com", Role: model.ParticipantViewer, Status: model.RSVPDeclined},
			},
		},
		{
			ID: "e2", Title: "Retro", StartTime: start.Add(24 * time.Hour), EndTime: start.Add(25 * time.Hour),
			Status: model.EventCancelled, CreatorID: "u1", UpdatedAt: start,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, "My events", events, start))
	assert.True(t, strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR"))

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	evs := cal.Events()
	require.Len(t, evs, 2)

	first := evs[0]
	summary, err := first.Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Kickoff", summary)
	desc, _ := first.Props.Text(ical.PropDescription)
	assert.Equal(t, "first, meeting", desc)

	dtstart, err := first.DateTimeStart(time.UTC)
	require.NoError(t, err)
	assert.True(t, dtstart.Equal(start))

	org := first.Props.Get(ical.PropOrganizer)
	require.NotNil(t, org)
	assert.Equal(t, "mailto:ada@example.com", org.Value)

	att := first.Props.Get(ical.PropAttendee)
	require.NotNil(t, att)
	assert.Equal(t, "mailto:bob@example.com", att.Value)
	assert.Equal(t, "DECLINED", att.Params.Get("PARTSTAT"))

	st, _ := evs[1].Props.Text(ical.PropStatus)
	assert.Equal(t, "CANCELLED", st)
}

func TestEncodeEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, "", nil, time.Now()))
	assert.Contains(t, buf.String(), "PRODID:"+ProductID)
}
