// Package catalog loads task catalogs and scripted plans from YAML.
//
// A plan file lists tasks, optionally keyed so that dependencies and steps can
// refer to them by name, followed by steps that drive a Guardian:
//
//	tasks:
//	  - key: api
//	    description: Fix API validation
//	    kind: validation-fix
//	  - key: ui
//	    description: Update form
//	    kind: component-fix
//	    depends_on: [api]
//	steps:
//	  - {task: api, to: in_progress}
//	  - {task: api, to: completed, files: [api/handler.go]}
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"guardian/internal/guardian"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan wraps every structural problem found while loading a plan.
var ErrInvalidPlan = errors.New("invalid plan")

// File is the decoded YAML document.
type File struct {
	Tasks        []TaskEntry   `yaml:"tasks"`
	Dependencies map[int][]int `yaml:"dependencies,omitempty"`
	Steps        []Step        `yaml:"steps,omitempty"`
}

// TaskEntry is one task definition plus an optional key.
type TaskEntry struct {
	Key             string            `yaml:"key,omitempty"`
	Description     string            `yaml:"description"`
	Kind            guardian.Kind     `yaml:"kind"`
	Priority        guardian.Priority `yaml:"priority,omitempty"`
	EstimatedEffort *int              `yaml:"estimated_effort,omitempty"`
	DependsOn       []string          `yaml:"depends_on,omitempty"`
}

// Step is one scripted action against a task. Wait runs first, then the
// recorded files and effort, then the transition.
type Step struct {
	Task        string        `yaml:"task"`
	To          string        `yaml:"to,omitempty"`
	Reason      string        `yaml:"reason,omitempty"`
	Files       []string      `yaml:"files,omitempty"`
	Effort      *int          `yaml:"effort,omitempty"`
	Wait        time.Duration `yaml:"wait,omitempty"`
	ExpectError string        `yaml:"expect_error,omitempty"`
}

// Load reads and parses a plan file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Parse decodes a plan document. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file File
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks defined", ErrInvalidPlan)
	}
	return &file, nil
}

// Catalog resolves keyed dependencies into a guardian.Catalog.
func (f *File) Catalog() (guardian.Catalog, error) {
	keys, err := f.keyIndex()
	if err != nil {
		return guardian.Catalog{}, err
	}

	catalog := guardian.Catalog{
		Tasks:        make([]guardian.TaskDefinition, len(f.Tasks)),
		Dependencies: make(map[int][]int, len(f.Dependencies)),
	}
	for idx, prereqs := range f.Dependencies {
		catalog.Dependencies[idx] = append([]int(nil), prereqs...)
	}
	for i, entry := range f.Tasks {
		catalog.Tasks[i] = guardian.TaskDefinition{
			Description:     entry.Description,
			Kind:            entry.Kind,
			Priority:        entry.Priority,
			EstimatedEffort: entry.EstimatedEffort,
		}
		for _, ref := range entry.DependsOn {
			idx, err := resolve(keys, len(f.Tasks), ref)
			if err != nil {
				return guardian.Catalog{}, fmt.Errorf("%w: task %d depends_on: %v", ErrInvalidPlan, i, err)
			}
			catalog.Dependencies[i] = append(catalog.Dependencies[i], idx)
		}
	}
	return catalog, nil
}

// Validate checks the catalog the way Guardian.CreateTasks would and checks
// that every step names a known task and state.
func (f *File) Validate() error {
	catalog, err := f.Catalog()
	if err != nil {
		return err
	}
	if err := guardian.ValidateCatalog(catalog); err != nil {
		return err
	}
	keys, _ := f.keyIndex()
	for i, step := range f.Steps {
		if _, err := resolve(keys, len(f.Tasks), step.Task); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidPlan, i, err)
		}
		if step.To != "" {
			if _, err := guardian.ParseState(step.To); err != nil {
				return fmt.Errorf("%w: step %d: %v", ErrInvalidPlan, i, err)
			}
		}
		if step.ExpectError != "" {
			if _, ok := expectedErrors[step.ExpectError]; !ok {
				return fmt.Errorf("%w: step %d: unknown expect_error %q", ErrInvalidPlan, i, step.ExpectError)
			}
			if step.To == "" {
				return fmt.Errorf("%w: step %d: expect_error needs a transition", ErrInvalidPlan, i)
			}
		}
		if step.Wait < 0 {
			return fmt.Errorf("%w: step %d: negative wait", ErrInvalidPlan, i)
		}
	}
	return nil
}

func (f *File) keyIndex() (map[string]int, error) {
	keys := make(map[string]int, len(f.Tasks))
	for i, entry := range f.Tasks {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		if _, err := strconv.Atoi(key); err == nil {
			return nil, fmt.Errorf("%w: task %d: key %q must not be numeric", ErrInvalidPlan, i, key)
		}
		if prev, dup := keys[key]; dup {
			return nil, fmt.Errorf("%w: task %d: key %q already used by task %d", ErrInvalidPlan, i, key, prev)
		}
		keys[key] = i
	}
	return keys, nil
}

// resolve maps a task key or a zero-based index to an index.
func resolve(keys map[string]int, n int, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if idx, ok := keys[ref]; ok {
		return idx, nil
	}
	idx, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("unknown task %q", ref)
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("task index %d out of range", idx)
	}
	return idx, nil
}
