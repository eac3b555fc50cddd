// Package calendar renders events as an iCalendar feed.
package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"process-calendar-api/internal/model"
)

const ProductID = "-//process-calendar-api//EN"

// Encode writes events as one VCALENDAR. now stamps DTSTAMP.
func Encode(w io.Writer, name string, events []*model.Event, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	if name != "" {
		cal.Props.SetText("X-WR-CALNAME", name)
	}
	for _, e := range events {
		cal.Children = append(cal.Children, toVEvent(e, now))
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func toVEvent(e *model.Event, now time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, e.ID+"@process-calendar-api")
	ve.Props.SetText(ical.PropSummary, e.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, e.EndTime.UTC())
	ve.Props.SetDateTime(ical.PropLastModified, e.UpdatedAt.UTC())
	ve.Props.SetText(ical.PropStatus, status(e.Status))

	if e.Description != "" {
		ve.Props.SetText(ical.PropDescription, e.Description)
	}
	if e.Location != "" {
		ve.Props.SetText(ical.PropLocation, e.Location)
	}

	for _, p := range e.Participants {
		if p.Email == "" {
			continue
		}
		if p.UserID == e.CreatorID {
			org := ical.NewProp(ical.PropOrganizer)
			org.Value = "mailto:" + p.Email
			if p.Name != "" {
				org.Params.Set("CN", p.Name)
			}
			ve.Props.Add(org)
			continue
		}
		att := ical.NewProp(ical.PropAttendee)
		att.Value = "mailto:" + p.Email
		if p.Name != "" {
			att.Params.Set("CN", p.Name)
		}
		att.Params.Set("PARTSTAT", partstat(p.Status))
		ve.Props.Add(att)
	}
	return ve
}

func status(s string) string {
	switch s {
	case model.EventCancelled:
		return "CANCELLED"
	case model.EventScheduled:
		return "TENTATIVE"
	}
	return "CONFIRMED"
}

func partstat(s string) string {
	switch s {
	case model.RSVPAccepted:
		return "ACCEPTED"
	case model.RSVPDeclined:
		return "DECLINED"
	}
	return "NEEDS-ACTION"
}
