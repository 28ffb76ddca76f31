// ABOUTME: Descriptor types for agents and data functions, and YAML loading.
// ABOUTME: An Agent implements the metadata interface the RPC client consumes.

package ddl

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when no descriptor file exists.
	ErrNotFound = errors.New("descriptor not found")
	// ErrInvalidDescriptor is returned for descriptors that fail to parse.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// Input types a descriptor may declare.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeList    = "list"
	TypeHash    = "hash"
	TypeAny     = "any"
)

// Meta is the descriptor header.
type Meta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Author      string `yaml:"author"`
	Version     string `yaml:"version"`
	// Timeout is in seconds.
	Timeout int `yaml:"timeout"`
}

// Input describes one action argument.
type Input struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Optional    bool   `yaml:"optional"`
	Validation  string `yaml:"validation"`
	MaxLength   int    `yaml:"maxlength"`
	Default     any    `yaml:"default"`

	pattern *regexp.Regexp
}

// Output describes one reply field.
type Output struct {
	Description string `yaml:"description"`
	DisplayAs   string `yaml:"display_as"`
}

// Action describes one agent action.
type Action struct {
	Description string            `yaml:"description"`
	Input       map[string]*Input `yaml:"input"`
	Output      map[string]Output `yaml:"output"`
}

// Agent is a parsed agent descriptor.
type Agent struct {
	Metadata Meta               `yaml:"metadata"`
	Actions  map[string]*Action `yaml:"actions"`
}

// Data is a parsed data function descriptor.
type Data struct {
	Metadata Meta              `yaml:"metadata"`
	Input    map[string]*Input `yaml:"input"`
	Output   map[string]Output `yaml:"output"`
}

// Timeout returns the evaluation allowance of the data function.
func (d *Data) Timeout() time.Duration {
	return time.Duration(d.Metadata.Timeout) * time.Second
}

// LoadAgent parses the agent descriptor at path.
func LoadAgent(path string) (*Agent, error) {
	var a Agent
	if err := loadYAML(path, &a); err != nil {
		return nil, err
	}
	for name, act := range a.Actions {
		if act == nil {
			return nil, fmt.Errorf("%w: %s: action %q is empty", ErrInvalidDescriptor, path, name)
		}
		if err := compileInputs(act.Input); err != nil {
			return nil, fmt.Errorf("%w: %s: action %q: %v", ErrInvalidDescriptor, path, name, err)
		}
	}
	return &a, nil
}

// LoadData parses the data function descriptor at path.
func LoadData(path string) (*Data, error) {
	var d Data
	if err := loadYAML(path, &d); err != nil {
		return nil, err
	}
	if err := compileInputs(d.Input); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, path, err)
	}
	return &d, nil
}

func loadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("reading descriptor: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, path, err)
	}
	return nil
}

func compileInputs(inputs map[string]*Input) error {
	for key, in := range inputs {
		if in == nil {
			return fmt.Errorf("input %q is empty", key)
		}
		switch in.Type {
		case "", TypeString, TypeInteger, TypeNumber, TypeFloat, TypeBoolean, TypeList, TypeHash, TypeAny:
		default:
			return fmt.Errorf("input %q has unknown type %q", key, in.Type)
		}
		if in.Validation != "" {
			re, err := regexp.Compile(in.Validation)
			if err != nil {
				return fmt.Errorf("input %q validation: %w", key, err)
			}
			in.pattern = re
		}
	}
	return nil
}

// ActionNames returns the agent's actions in sorted order.
func (a *Agent) ActionNames() []string {
	names := make([]string, 0, len(a.Actions))
	for name := range a.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Action returns the named action.
func (a *Agent) Action(name string) (*Action, bool) {
	act, ok := a.Actions[name]
	return act, ok
}

// DefaultTimeout returns the agent's declared timeout. The value is the same
// for every action.
func (a *Agent) DefaultTimeout(string) time.Duration {
	return time.Duration(a.Metadata.Timeout) * time.Second
}
