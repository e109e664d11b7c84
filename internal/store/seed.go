package store

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/tutormesh/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed curriculum.yaml
var defaultCurriculum []byte

// Curriculum is the YAML seed document.
type Curriculum struct {
	Questions []domain.QuestionRecord `yaml:"questions"`
}

// LoadCurriculum parses the file at path, or the built-in curriculum when
// path is empty.
func LoadCurriculum(path string) (*Curriculum, error) {
	data := defaultCurriculum
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read curriculum: %w", err)
		}
	}
	return ParseCurriculum(data)
}

// ParseCurriculum decodes and validates a curriculum document.
func ParseCurriculum(data []byte) (*Curriculum, error) {
	var c Curriculum
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse curriculum: %w", err)
	}
	for i, q := range c.Questions {
		switch {
		case strings.TrimSpace(q.Subject) == "":
			return nil, fmt.Errorf("question %d: subject is required", i)
		case strings.TrimSpace(q.Level) == "":
			return nil, fmt.Errorf("question %d: level is required", i)
		case strings.TrimSpace(q.PromptText) == "":
			return nil, fmt.Errorf("question %d: prompt is required", i)
		case strings.TrimSpace(q.ExpectedAnswer) == "":
			return nil, fmt.Errorf("question %d: answer is required", i)
		}
	}
	return &c, nil
}

// Seed upserts every question of c into repo and returns how many were written.
func Seed(ctx context.Context, repo Repository, c *Curriculum) (int, error) {
	for i, q := range c.Questions {
		if err := repo.UpsertQuestion(ctx, q); err != nil {
			return i, err
		}
	}
	return len(c.Questions), nil
}
