package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/usecase"
)

// seedYAML is the dev fixture shape: one job posting plus one resume.
type seedYAML struct {
	Job struct {
		Title       string   `yaml:"title"`
		Seniority   string   `yaml:"seniority"`
		TechStack   []string `yaml:"tech_stack"`
		Description string   `yaml:"description"`
	} `yaml:"job"`
	Resume struct {
		Skills         []string `yaml:"skills"`
		WorkHistory    []string `yaml:"work_history"`
		Projects       []string `yaml:"projects"`
		Certifications []string `yaml:"certifications"`
	} `yaml:"resume"`
}

// seedDemoInterview starts one interview from a YAML fixture so a fresh dev
// stack has a session to poke at. Failures only log; the server still boots.
func seedDemoInterview(ctx context.Context, interviews usecase.InterviewService, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed file: %w", err)
	}
	var doc seedYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("seed yaml parse: %w", err)
	}

	job := domain.JobContext{
		Title:       doc.Job.Title,
		Seniority:   doc.Job.Seniority,
		TechStack:   doc.Job.TechStack,
		Description: doc.Job.Description,
	}
	resume := domain.ResumeContext{
		Skills:         doc.Resume.Skills,
		WorkHistory:    doc.Resume.WorkHistory,
		Projects:       doc.Resume.Projects,
		Certifications: doc.Resume.Certifications,
	}
	if job.Empty() || resume.Empty() {
		return fmt.Errorf("seed fixture %s has no usable job or resume context", path)
	}

	sess, qs, err := interviews.Start(ctx, job, resume)
	if err != nil {
		return fmt.Errorf("seed interview start: %w", err)
	}
	slog.Info("demo interview seeded",
		slog.String("session_id", sess.ID),
		slog.Int("questions", len(qs)),
		slog.String("fixture", path))
	return nil
}
