// Package domain contains the core entities for lab-report reconciliation and health scoring:
// tasks, lab observations, feature vectors, scoring configuration and score results.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Task identifies a prediction task. Each task has its own required-feature list,
// alias table, imputation defaults and scoring configuration.
type Task string

const (
	TaskHeart      Task = "heart"
	TaskDiabetes   Task = "diabetes"
	TaskParkinsons Task = "parkinsons"
	TaskAnemiaTab  Task = "anemia_tab"
	TaskAnemiaImg  Task = "anemia_img"
	TaskGeneral    Task = "general"
)

// AllTasks lists the supported tasks in declaration order.
var AllTasks = []Task{TaskHeart, TaskDiabetes, TaskParkinsons, TaskAnemiaTab, TaskAnemiaImg, TaskGeneral}

var (
	ErrUnknownTask      = errors.New("unknown task")
	ErrReportNotFound   = errors.New("report not found")
	ErrInvalidTransform = errors.New("invalid transform")
)

// IsValid reports whether t is one of the supported tasks.
func (t Task) IsValid() bool {
	switch t {
	case TaskHeart, TaskDiabetes, TaskParkinsons, TaskAnemiaTab, TaskAnemiaImg, TaskGeneral:
		return true
	default:
		return false
	}
}

// String returns the string representation of the task.
func (t Task) String() string {
	return string(t)
}

// ParseTask normalizes raw input (trailing whitespace, newlines, case) and rejects
// values outside the supported set.
func ParseTask(raw string) (Task, error) {
	t := Task(strings.ToLower(strings.TrimSpace(raw)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, raw)
	}
	return t, nil
}

// Source records which extractor produced a lab observation.
type Source string

const (
	SourceLLM               Source = "llm"
	SourceTextParsing       Source = "text_parsing"
	SourceTokenParsing      Source = "token_parsing"
	SourceAdvancedExtractor Source = "advanced_extractor"
)

// IsValid reports whether s is a known extractor.
func (s Source) IsValid() bool {
	switch s {
	case SourceLLM, SourceTextParsing, SourceTokenParsing, SourceAdvancedExtractor:
		return true
	default:
		return false
	}
}

// DefaultConfidence is the confidence assigned to an observation from this source when
// the extractor does not report one.
func (s Source) DefaultConfidence() float64 {
	switch s {
	case SourceLLM:
		return 0.93
	case SourceAdvancedExtractor:
		return 0.9
	case SourceTokenParsing:
		return 0.8
	case SourceTextParsing:
		return 0.7
	default:
		return 0.5
	}
}

// Transform selects the penalty function of a scored feature.
type Transform string

const (
	TransformZ       Transform = "z"
	TransformPercent Transform = "percent"
)

// IsValid reports whether tr is a known transform.
func (tr Transform) IsValid() bool {
	return tr == TransformZ || tr == TransformPercent
}
