package runner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Outcome is the scripted terminal state of a leaf test in a plan.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeFail  Outcome = "fail"
	OutcomeAbort Outcome = "abort"
	OutcomeSkip  Outcome = "skip"
)

// IsValid reports whether the outcome is one of the known values.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomePass, OutcomeFail, OutcomeAbort, OutcomeSkip:
		return true
	default:
		return false
	}
}

// TestSpec scripts one leaf test.
type TestSpec struct {
	Name    string  `yaml:"name"`
	Outcome Outcome `yaml:"outcome"`
	// Reason annotates skip and abort outcomes.
	Reason string `yaml:"reason,omitempty"`
	// Message annotates fail outcomes.
	Message string `yaml:"message,omitempty"`
}

// FactorySpec scripts a test factory whose children are discovered only at
// execution time: the runner assigns their identifiers lazily while the
// session is already in flight.
type FactorySpec struct {
	Name     string `yaml:"name"`
	Generate int    `yaml:"generate"`
}

// ContainerSpec scripts one container of tests and factories.
type ContainerSpec struct {
	Name      string        `yaml:"name"`
	Tests     []TestSpec    `yaml:"tests,omitempty"`
	Factories []FactorySpec `yaml:"factories,omitempty"`
}

// Plan is a declarative execution tree: the executor walks it and emits
// the corresponding lifecycle event stream. Discovery proper is out of
// scope; a plan stands in for the output of whatever discovery produced
// the tree.
type Plan struct {
	Engine     string          `yaml:"engine"`
	Containers []ContainerSpec `yaml:"containers"`
}

// LoadPlan reads and validates a plan from a YAML file.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to read plan file %q: %w", path, err)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return Plan{}, fmt.Errorf("invalid plan file %q: %w", path, err)
	}
	return plan, nil
}

// ParsePlan parses and validates YAML plan content.
func ParsePlan(data []byte) (Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Validate checks the plan for structural problems. It fails closed: an
// unknown outcome or a nameless node is an error, not a default.
func (p Plan) Validate() error {
	if p.Engine == "" {
		return fmt.Errorf("plan is missing an engine name")
	}
	if len(p.Containers) == 0 {
		return fmt.Errorf("plan %q has no containers", p.Engine)
	}
	seen := make(map[string]struct{}, len(p.Containers))
	for _, container := range p.Containers {
		if container.Name == "" {
			return fmt.Errorf("plan %q has a container with no name", p.Engine)
		}
		if _, dup := seen[container.Name]; dup {
			return fmt.Errorf("plan %q has duplicate container %q", p.Engine, container.Name)
		}
		seen[container.Name] = struct{}{}
		if err := container.validate(); err != nil {
			return fmt.Errorf("container %q: %w", container.Name, err)
		}
	}
	return nil
}

func (c ContainerSpec) validate() error {
	if len(c.Tests) == 0 && len(c.Factories) == 0 {
		return fmt.Errorf("container has no tests or factories")
	}
	names := make(map[string]struct{}, len(c.Tests))
	for _, test := range c.Tests {
		if test.Name == "" {
			return fmt.Errorf("test with no name")
		}
		if _, dup := names[test.Name]; dup {
			return fmt.Errorf("duplicate test %q", test.Name)
		}
		names[test.Name] = struct{}{}
		if !test.Outcome.IsValid() {
			return fmt.Errorf("test %q has unknown outcome %q", test.Name, test.Outcome)
		}
	}
	for _, factory := range c.Factories {
		if factory.Name == "" {
			return fmt.Errorf("factory with no name")
		}
		if factory.Generate < 1 {
			return fmt.Errorf("factory %q must generate at least one test, got %d", factory.Name, factory.Generate)
		}
	}
	return nil
}
