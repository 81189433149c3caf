package scenario

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is a conformance scenario: operations to run and what they must
// produce.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Setup steps run before the flow and must succeed; their expect
	// clauses are ignored.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps run in order; each may carry an expect clause.
	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one client operation.
type Step struct {
	Op     string `yaml:"op"`
	Bucket string `yaml:"bucket,omitempty"`
	Key    string `yaml:"key,omitempty"`

	// store
	Value       string              `yaml:"value,omitempty"`
	ContentType string              `yaml:"content_type,omitempty"`
	Causal      bool                `yaml:"causal,omitempty"` // fetch the current token first
	Meta        map[string]string   `yaml:"meta,omitempty"`
	Indexes     map[string][]string `yaml:"indexes,omitempty"` // name_type -> values
	AutoIndexes []string            `yaml:"auto_indexes,omitempty"`

	// resolve
	Sibling int `yaml:"sibling,omitempty"`

	// props
	Props map[string]any `yaml:"props,omitempty"`

	// index: an exact Match, or the inclusive range [Low, High]
	Index  string `yaml:"index,omitempty"`
	Match  string `yaml:"match,omitempty"`
	Low    string `yaml:"low,omitempty"`
	High   string `yaml:"high,omitempty"`
	Dedupe bool   `yaml:"dedupe,omitempty"`

	// mapred
	Job string `yaml:"job,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes what a step must produce. Unset fields are not checked.
type Expect struct {
	// Error is the expected error code (e.g. "CONFLICT"). When set the
	// step must fail with that code.
	Error string `yaml:"error,omitempty"`

	Found      *bool    `yaml:"found,omitempty"`
	Siblings   *int     `yaml:"siblings,omitempty"`
	Conflicted *bool    `yaml:"conflicted,omitempty"`
	Values     []string `yaml:"values,omitempty"` // sibling payloads in order
	Keys       []string `yaml:"keys,omitempty"`

	// Results is the JSON of the last kept map/reduce phase.
	Results string `yaml:"results,omitempty"`
}

// Assertion validates the trace or final store state.
type Assertion struct {
	Type string `yaml:"type"`

	Op     string   `yaml:"op,omitempty"`
	Ops    []string `yaml:"ops,omitempty"`
	Count  int      `yaml:"count,omitempty"`
	Status int      `yaml:"status,omitempty"`

	Bucket   string `yaml:"bucket,omitempty"`
	Key      string `yaml:"key,omitempty"`
	Siblings int    `yaml:"siblings,omitempty"`
}

// Assertion types.
const (
	AssertRequestCount  = "request_count"
	AssertRequestOrder  = "request_order"
	AssertRequestStatus = "request_status"
	AssertFinalState    = "final_state"
)

// Step operations.
const (
	OpStore   = "store"
	OpFetch   = "fetch"
	OpDelete  = "delete"
	OpResolve = "resolve"
	OpProps   = "props"
	OpIndex   = "index"
	OpMapred  = "mapred"
)

var validOps = []string{OpStore, OpFetch, OpDelete, OpResolve, OpProps, OpIndex, OpMapred}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	for i, st := range sc.Setup {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, st := range sc.Flow {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range sc.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	if !slices.Contains(validOps, st.Op) {
		return fmt.Errorf("unknown op %q", st.Op)
	}
	switch st.Op {
	case OpMapred:
		if st.Job == "" {
			return fmt.Errorf("mapred needs a job")
		}
	case OpIndex:
		if st.Bucket == "" || st.Index == "" {
			return fmt.Errorf("index needs bucket and index")
		}
		if (st.Low == "") != (st.High == "") {
			return fmt.Errorf("index range needs both low and high")
		}
	case OpStore, OpProps:
		if st.Bucket == "" {
			return fmt.Errorf("%s needs a bucket", st.Op)
		}
	default:
		if st.Bucket == "" || st.Key == "" {
			return fmt.Errorf("%s needs bucket and key", st.Op)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertRequestCount:
		if a.Op == "" {
			return fmt.Errorf("request_count needs op")
		}
	case AssertRequestOrder:
		if len(a.Ops) < 2 {
			return fmt.Errorf("request_order needs at least two ops")
		}
	case AssertRequestStatus:
		if a.Op == "" || a.Status == 0 {
			return fmt.Errorf("request_status needs op and status")
		}
	case AssertFinalState:
		if a.Bucket == "" || a.Key == "" {
			return fmt.Errorf("final_state needs bucket and key")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
