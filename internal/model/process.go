package model

import "time"

// Process is a checklist. Templates (IsTemplate) are copied onto events;
// copies point back through TemplateID.
type Process struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	IsTemplate  bool      `json:"isTemplate"`
	TemplateID  *string   `json:"templateId"`
	DirectoryID *string   `json:"directoryId"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Step struct {
	ID          string     `json:"id"`
	ProcessID   string     `json:"processId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Position    int        `json:"position"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
	CompletedBy *string    `json:"completedBy"`
	DueDate     *time.Time `json:"dueDate"`
	SubSteps    []SubStep  `json:"subSteps"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type SubStep struct {
	ID          string     `json:"id"`
	StepID      string     `json:"stepId"`
	Title       string     `json:"title"`
	Position    int        `json:"position"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
}
