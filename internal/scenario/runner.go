package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/rs/zerolog"

	"github.com/roach88/kvq/internal/client"
	"github.com/roach88/kvq/internal/index"
	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/logger"
	"github.com/roach88/kvq/internal/object"
	"github.com/roach88/kvq/internal/pipeline"
	"github.com/roach88/kvq/internal/testutil"
	"github.com/roach88/kvq/internal/transport"
)

// ClientID is the client ID every scenario writes with.
const ClientID = "scenario-client"

// Runner executes scenarios against a fresh in-memory store.
type Runner struct {
	store  *testutil.Store
	client *client.Client
	result *Result
	log    zerolog.Logger

	// lastOutcome is what the most recent step produced.
	lastOutcome outcome
}

// Run executes a scenario and returns the result. An error means the
// scenario could not run; failed expectations are reported in the result.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	return RunWithLogger(ctx, sc, logger.Nop())
}

// RunWithLogger is Run with step logging to log.
func RunWithLogger(ctx context.Context, sc *Scenario, log zerolog.Logger) (*Result, error) {
	r := &Runner{
		store: testutil.NewStore(
			testutil.WithKeys(testutil.NewSequentialKeys("key-")),
			testutil.WithClock(testutil.NewDeterministicClock()),
		),
		result: NewResult(),
		log:    logger.Component(log, "scenario").With().Str("scenario", sc.Name).Logger(),
	}
	r.client = client.New(transport.Chain(r.store, r.tracing), client.Options{
		ClientID: ClientID,
		Logger:   log,
	})

	for i, st := range sc.Setup {
		if err := r.execute(ctx, st); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, st.Op, err)
		}
	}

	for i, st := range sc.Flow {
		err := r.execute(ctx, st)
		r.check(i, st, err)
		r.log.Debug().Int("step", i).Str("op", st.Op).Err(err).Msg("flow step completed")
	}

	actx := &AssertionContext{Store: r.store}
	for _, msg := range EvaluateAssertions(r.result, sc.Assertions, actx) {
		r.result.AddError(msg)
	}
	return r.result, nil
}

// tracing records every exchange in the result trace.
func (r *Runner) tracing(next transport.Transport) transport.Transport {
	return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		resp, err := next.Do(ctx, req)
		status := 0
		if resp != nil {
			status = resp.Status
		}
		r.result.addTrace(req.Op, req.Method, req.Path, status)
		return resp, err
	})
}

// outcome holds what a step produced, for its expect clause.
type outcome struct {
	siblings *object.Siblings
	stored   *object.Version
	keys     []string
	results  pipeline.ResultBucket
}

func (r *Runner) execute(ctx context.Context, st Step) error {
	out, err := r.run(ctx, st)
	r.lastOutcome = out
	return err
}

func (r *Runner) run(ctx context.Context, st Step) (outcome, error) {
	switch st.Op {
	case OpStore:
		v, err := buildVersion(st)
		if err != nil {
			return outcome{}, err
		}
		if st.Causal {
			current, err := r.client.Fetch(ctx, st.Bucket, st.Key)
			if err != nil {
				return outcome{}, err
			}
			if current.Conflicted() {
				return outcome{}, kverr.Conflict("store", "%s/%s has %d siblings", st.Bucket, st.Key, current.Len())
			}
			v.VClock = current.Version().VClock
		}
		stored, err := r.client.Store(ctx, v)
		return outcome{stored: stored}, err

	case OpFetch:
		sibs, err := r.client.Fetch(ctx, st.Bucket, st.Key)
		return outcome{siblings: sibs}, err

	case OpDelete:
		return outcome{}, r.client.Delete(ctx, st.Bucket, st.Key)

	case OpResolve:
		sibs, err := r.client.Fetch(ctx, st.Bucket, st.Key)
		if err != nil {
			return outcome{}, err
		}
		chosen, err := sibs.Resolve(st.Sibling)
		if err != nil {
			return outcome{}, err
		}
		stored, err := r.client.Store(ctx, chosen)
		return outcome{stored: stored}, err

	case OpProps:
		return outcome{}, r.client.SetBucketProps(ctx, st.Bucket, st.Props)

	case OpIndex:
		q, err := buildIndexQuery(st)
		if err != nil {
			return outcome{}, err
		}
		keys, err := r.client.IndexQuery(ctx, q)
		return outcome{keys: keys}, err

	case OpMapred:
		p, err := pipeline.ParseJob([]byte(st.Job))
		if err != nil {
			return outcome{}, err
		}
		res, err := r.client.Execute(ctx, p)
		if err != nil {
			return outcome{}, err
		}
		return outcome{results: res.Single()}, nil

	default:
		return outcome{}, fmt.Errorf("unknown op %q", st.Op)
	}
}

func buildVersion(st Step) (*object.Version, error) {
	v := object.New(st.Bucket, st.Key)
	ct := st.ContentType
	if ct == "" {
		ct = object.ContentTypeJSON
	}
	v.SetData([]byte(st.Value), ct)
	for k, val := range st.Meta {
		v.SetMeta(k, val)
	}
	for _, wireName := range sortedKeys(st.Indexes) {
		f, err := index.ParseField(wireName)
		if err != nil {
			return nil, kverr.Validation("store", "%v", err)
		}
		for _, val := range st.Indexes[wireName] {
			if err := v.Indexes.AddExplicit(f.Name, f.Type, val); err != nil {
				return nil, err
			}
		}
	}
	for _, wireName := range st.AutoIndexes {
		f, err := index.ParseField(wireName)
		if err != nil {
			return nil, kverr.Validation("store", "%v", err)
		}
		if err := v.Indexes.AutoIndex(f.Name, f.Type); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func buildIndexQuery(st Step) (index.Query, error) {
	f, err := index.ParseField(st.Index)
	if err != nil {
		return index.Query{}, kverr.Validation("index", "%v", err)
	}
	if st.Low != "" {
		return index.Between(st.Bucket, f.Name, f.Type, st.Low, st.High, st.Dedupe)
	}
	return index.Exact(st.Bucket, f.Name, f.Type, st.Match)
}

// check compares a flow step's outcome with its expect clause.
func (r *Runner) check(i int, st Step, err error) {
	fail := func(format string, args ...any) {
		r.result.AddError(fmt.Sprintf("flow step %d (%s): ", i, st.Op) + fmt.Sprintf(format, args...))
	}
	exp := st.Expect
	if exp == nil || exp.Error == "" {
		if err != nil {
			fail("unexpected error: %v", err)
			return
		}
	}
	if exp == nil {
		return
	}
	if exp.Error != "" {
		if code := string(kverr.CodeOf(err)); code != exp.Error {
			fail("expected error %s, got %q (%v)", exp.Error, code, err)
		}
		return
	}

	out := r.lastOutcome
	if exp.Found != nil {
		if found := out.siblings.Exists(); found != *exp.Found {
			fail("expected found=%v, got %v", *exp.Found, found)
		}
	}
	if exp.Siblings != nil {
		if n := out.siblings.Len(); n != *exp.Siblings {
			fail("expected %d siblings, got %d", *exp.Siblings, n)
		}
	}
	if exp.Conflicted != nil {
		got := false
		switch {
		case out.stored != nil:
			got = out.stored.Conflicted
		case out.siblings != nil:
			got = out.siblings.Conflicted()
		}
		if got != *exp.Conflicted {
			fail("expected conflicted=%v, got %v", *exp.Conflicted, got)
		}
	}
	if exp.Values != nil {
		var values []string
		for _, v := range out.siblings.All() {
			values = append(values, string(v.Data))
		}
		if !slices.Equal(values, exp.Values) {
			fail("expected values %q, got %q", exp.Values, values)
		}
	}
	if exp.Keys != nil && !slices.Equal(out.keys, exp.Keys) {
		fail("expected keys %q, got %q", exp.Keys, out.keys)
	}
	if exp.Results != "" {
		if err := sameJSON(exp.Results, out.results); err != nil {
			fail("%v", err)
		}
	}
}

func sameJSON(want string, got pipeline.ResultBucket) error {
	var w, g any
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		return fmt.Errorf("expected results are not JSON: %w", err)
	}
	items := []json.RawMessage(got)
	if items == nil {
		items = []json.RawMessage{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	if !reflect.DeepEqual(w, g) {
		return fmt.Errorf("expected results %s, got %s", want, data)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
