// Package templates loads process templates from YAML seed files.
package templates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"process-calendar-api/internal/model"
)

// File is the seed document:
//
//	templates:
//	  - title: Onboarding
//	    description: New hire checklist
//	    steps:
//	      - title: Accounts
//	        substeps: [Email, Chat]
type File struct {
	Templates []Template `yaml:"templates"`
}

type Template struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

type Step struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	SubSteps    []string `yaml:"substeps"`
}

func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Parse(fh)
}

func (f *File) Validate() error {
	seen := map[string]bool{}
	for i, t := range f.Templates {
		title := strings.TrimSpace(t.Title)
		if title == "" {
			return fmt.Errorf("template %d: title is required", i+1)
		}
		if seen[title] {
			return fmt.Errorf("template %q defined twice", title)
		}
		seen[title] = true
		for j, s := range t.Steps {
			if strings.TrimSpace(s.Title) == "" {
				return fmt.Errorf("template %q step %d: title is required", title, j+1)
			}
		}
	}
	return nil
}

// Process converts a seed template into a template process owned by ownerID.
func (t Template) Process(ownerID string) *model.Process {
	p := &model.Process{
		Title:       strings.TrimSpace(t.Title),
		Description: t.Description,
		OwnerID:     ownerID,
		IsTemplate:  true,
		Steps:       make([]model.Step, 0, len(t.Steps)),
	}
	for _, s := range t.Steps {
		st := model.Step{Title: strings.TrimSpace(s.Title), Description: s.Description, SubSteps: []model.SubStep{}}
		for _, sub := range s.SubSteps {
			st.SubSteps = append(st.SubSteps, model.SubStep{Title: strings.TrimSpace(sub)})
		}
		p.Steps = append(p.Steps, st)
	}
	return p
}

// Seed creates each template the owner does not already have by title and
// returns how many were created.
func Seed(ctx context.Context, st Creator, ownerID string, f *File) (int, error) {
	existing, err := st.TemplateTitles(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}

	created := 0
	for _, t := range f.Templates {
		p := t.Process(ownerID)
		if have[p.Title] {
			continue
		}
		if err := st.CreateProcess(ctx, p); err != nil {
			return created, fmt.Errorf("create template %q: %w", p.Title, err)
		}
		have[p.Title] = true
		created++
	}
	return created, nil
}

// Creator is what Seed needs from the data layer.
type Creator interface {
	TemplateTitles(ctx context.Context, ownerID string) ([]string, error)
	CreateProcess(ctx context.Context, p *model.Process) error
}
