package scenario

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kvq/internal/wire"
)

// TraceSnapshot is the golden-file form of a scenario's exchanges.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// Canonical returns the snapshot as canonical JSON.
func (s TraceSnapshot) Canonical() ([]byte, error) {
	events := make(wire.Array, len(s.Trace))
	for i, ev := range s.Trace {
		events[i] = wire.Object{
			"seq":    wire.Int(ev.Seq),
			"op":     wire.String(ev.Op),
			"method": wire.String(ev.Method),
			"path":   wire.String(ev.Path),
			"status": wire.Int(ev.Status),
		}
	}
	return wire.Encode(wire.Object{
		"scenario_name": wire.String(s.ScenarioName),
		"trace":         events,
	})
}

// RunWithGolden runs sc and compares its trace with
// testdata/golden/<sc.Name>.golden. It returns the result for further
// checks; a trace mismatch fails t through goldie.
func RunWithGolden(t *testing.T, sc *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), sc)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, sc.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares result's trace with the golden file for name.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := TraceSnapshot{ScenarioName: name, Trace: result.Trace}.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
