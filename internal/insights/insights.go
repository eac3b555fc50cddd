// Package insights computes dashboard figures: activity summaries,
// process progress and burnup series.
package insights

import (
	"math"
	"time"

	"process-calendar-api/internal/model"
)

// MaxBurnupDays bounds the length of a burnup series.
const MaxBurnupDays = 366

type Summary struct {
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	TotalEvents    int            `json:"totalEvents"`
	EventsByStatus map[string]int `json:"eventsByStatus"`
	CompletionRate float64        `json:"completionRate"`
	StepsTotal     int            `json:"stepsTotal"`
	StepsCompleted int            `json:"stepsCompleted"`
	OverdueSteps   int            `json:"overdueSteps"`
	UpcomingEvents int            `json:"upcomingEvents"`
	Posts          int            `json:"posts"`
}

type Progress struct {
	ProcessID         string  `json:"processId"`
	Title             string  `json:"title"`
	TotalSteps        int     `json:"totalSteps"`
	CompletedSteps    int     `json:"completedSteps"`
	TotalSubSteps     int     `json:"totalSubSteps"`
	CompletedSubSteps int     `json:"completedSubSteps"`
	Percent           float64 `json:"percent"`
}

// StepCounts is one step with its substep tallies.
type StepCounts struct {
	ProcessID string `db:"process_id"`
	StepID    string `db:"id"`
	Completed bool   `db:"completed"`
	SubSteps  int    `db:"subs"`
	SubsDone  int    `db:"subs_done"`
}

type BurnupPoint struct {
	Date      string `json:"date"`
	Scope     int    `json:"scope"`
	Completed int    `json:"completed"`
}

// StepTimes is what a burnup needs from a step.
type StepTimes struct {
	CreatedAt   time.Time  `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// CompletionRate is completed over non-cancelled events, 0 when there are
// none.
func CompletionRate(byStatus map[string]int) float64 {
	active := 0
	for status, n := range byStatus {
		if status != model.EventCancelled {
			active += n
		}
	}
	if active == 0 {
		return 0
	}
	return round(float64(byStatus[model.EventCompleted]) / float64(active))
}

// ComputeProgress weighs each step equally. A completed step counts fully;
// an open step with substeps counts for the fraction of its substeps done.
func ComputeProgress(processID, title string, steps []StepCounts) Progress {
	p := Progress{ProcessID: processID, Title: title, TotalSteps: len(steps)}
	var units float64
	for _, s := range steps {
		p.TotalSubSteps += s.SubSteps
		p.CompletedSubSteps += s.SubsDone
		switch {
		case s.Completed:
			p.CompletedSteps++
			units++
		case s.SubSteps > 0:
			units += float64(s.SubsDone) / float64(s.SubSteps)
		}
	}
	if p.TotalSteps > 0 {
		p.Percent = round(units / float64(p.TotalSteps) * 100)
	}
	return p
}

// ProcessProgress computes progress from a loaded process.
func ProcessProgress(pr *model.Process) Progress {
	counts := make([]StepCounts, len(pr.Steps))
	for i, st := range pr.Steps {
		c := StepCounts{ProcessID: pr.ID, StepID: st.ID, Completed: st.Completed, SubSteps: len(st.SubSteps)}
		for _, sub := range st.SubSteps {
			if sub.Completed {
				c.SubsDone++
			}
		}
		counts[i] = c
	}
	return ComputeProgress(pr.ID, pr.Title, counts)
}

// Burnup builds one point per UTC day from from to to inclusive. Scope is
// the number of steps created by the end of the day, Completed the number
// completed by then.
func Burnup(steps []StepTimes, from, to time.Time) []BurnupPoint {
	day := truncateDay(from)
	last := truncateDay(to)
	if last.Before(day) {
		return []BurnupPoint{}
	}
	if span := int(last.Sub(day).Hours()/24) + 1; span > MaxBurnupDays {
		day = last.AddDate(0, 0, -(MaxBurnupDays - 1))
	}

	out := []BurnupPoint{}
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		end := day.AddDate(0, 0, 1)
		pt := BurnupPoint{Date: day.Format("2006-01-02")}
		for _, s := range steps {
			if s.CreatedAt.Before(end) {
				pt.Scope++
			}
			if s.CompletedAt != nil && s.CompletedAt.Before(end) {
				pt.Completed++
			}
		}
		out = append(out, pt)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}
