package scenario

import (
	"fmt"
	"strings"

	"github.com/roach88/kvq/internal/testutil"
)

// AssertionContext is what assertions may inspect besides the trace.
type AssertionContext struct {
	Store *testutil.Store
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s -> %d\n", ev.Seq, ev.Op, ev.Method, ev.Path, ev.Status)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertRequestCount:
		return assertRequestCount(trace, a)
	case AssertRequestOrder:
		return assertRequestOrder(trace, a)
	case AssertRequestStatus:
		return assertRequestStatus(trace, a)
	case AssertFinalState:
		return assertFinalState(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertRequestCount checks op was sent exactly Count times.
func assertRequestCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%s sent %d times", a.Op, a.Count),
			Actual:   fmt.Sprintf("sent %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRequestOrder checks the first occurrences of Ops appear in order.
// Other requests may come in between.
func assertRequestOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Op]; !seen {
			positions[ev.Op] = i + 1
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertRequestStatus checks every exchange of Op answered with Status.
func assertRequestStatus(trace []TraceEvent, a Assertion) error {
	found := false
	for _, ev := range trace {
		if ev.Op != a.Op {
			continue
		}
		found = true
		if ev.Status != a.Status {
			return &AssertionError{
				Type:     AssertRequestStatus,
				Expected: fmt.Sprintf("%s answered %d", a.Op, a.Status),
				Actual:   fmt.Sprintf("request %d answered %d", ev.Seq, ev.Status),
				Trace:    trace,
			}
		}
	}
	if !found {
		return &AssertionError{
			Type:     AssertRequestStatus,
			Expected: fmt.Sprintf("%s answered %d", a.Op, a.Status),
			Actual:   "never sent",
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the store holds Siblings versions of Bucket/Key.
// Zero means the key is absent.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("final_state: no store to inspect")
	}
	if n := actx.Store.SiblingCount(a.Bucket, a.Key); n != a.Siblings {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s/%s holds %d siblings", a.Bucket, a.Key, a.Siblings),
			Actual:   fmt.Sprintf("holds %d", n),
		}
	}
	return nil
}
