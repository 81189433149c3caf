// Package pipeline builds map/reduce queries.
//
// A Pipeline has inputs and an ordered list of phases. Inputs are either
// explicit (bucket, key[, arg]) triples or a single bucket to scan; the two
// modes are mutually exclusive. KeyFilter phases restrict a bucket scan and
// are compiled into the inputs; every other phase is compiled into the
// query in the order it was added.
//
// A Pipeline is not safe for concurrent mutation.
package pipeline

import (
	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/object"
	"github.com/roach88/kvq/internal/phase"
	"github.com/roach88/kvq/internal/wire"
)

// Input is one explicit pipeline input.
type Input struct {
	Bucket string
	Key    string
	// Arg is optional per-input data passed to the first phase.
	Arg wire.Value
}

// Pipeline is an ordered map/reduce plan.
type Pipeline struct {
	inputs []Input
	bucket string
	phases []phase.Phase
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// AddInput adds an explicit (bucket, key) input.
func (p *Pipeline) AddInput(bucket, key string) error {
	return p.AddInputArg(bucket, key, nil)
}

// AddInputArg adds an explicit (bucket, key, arg) input.
func (p *Pipeline) AddInputArg(bucket, key string, arg wire.Value) error {
	if p.bucket != "" {
		return kverr.Validation("add input", "pipeline already scans bucket %q", p.bucket)
	}
	if bucket == "" || key == "" {
		return kverr.Validation("add input", "input needs a bucket and a key")
	}
	p.inputs = append(p.inputs, Input{Bucket: bucket, Key: key, Arg: arg})
	return nil
}

// AddBucket makes the pipeline scan every key of bucket.
func (p *Pipeline) AddBucket(bucket string) error {
	if bucket == "" {
		return kverr.Validation("add bucket", "bucket is empty")
	}
	if len(p.inputs) > 0 {
		return kverr.Validation("add bucket", "pipeline already has %d explicit inputs", len(p.inputs))
	}
	if p.bucket != "" && p.bucket != bucket {
		return kverr.Validation("add bucket", "pipeline already scans bucket %q", p.bucket)
	}
	p.bucket = bucket
	return nil
}

// AddPhase appends a phase.
func (p *Pipeline) AddPhase(ph phase.Phase) *Pipeline {
	p.phases = append(p.phases, ph)
	return p
}

// StepOption configures a Map or Reduce phase added through the helpers.
type StepOption func(*step)

type step struct {
	keep bool
	lang phase.Language
	arg  wire.Value
}

// Keep marks the phase's output as part of the result.
func Keep() StepOption { return func(s *step) { s.keep = true } }

// WithArg sets the static argument passed to the phase function.
func WithArg(arg wire.Value) StepOption { return func(s *step) { s.arg = arg } }

// WithLanguage sets the phase language instead of inferring it.
func WithLanguage(lang phase.Language) StepOption { return func(s *step) { s.lang = lang } }

func applyOptions(opts []StepOption) step {
	var s step
	for _, o := range opts {
		o(&s)
	}
	return s
}

// Map appends a map phase.
func (p *Pipeline) Map(fn phase.Function, opts ...StepOption) *Pipeline {
	s := applyOptions(opts)
	return p.AddPhase(phase.Map{Function: fn, Language: s.lang, Keep: s.keep, Arg: s.arg})
}

// Reduce appends a reduce phase.
func (p *Pipeline) Reduce(fn phase.Function, opts ...StepOption) *Pipeline {
	s := applyOptions(opts)
	return p.AddPhase(phase.Reduce{Function: fn, Language: s.lang, Keep: s.keep, Arg: s.arg})
}

// Link appends a link-walk phase. Empty bucket or tag match anything.
func (p *Pipeline) Link(bucket, tag string, keep bool) *Pipeline {
	return p.AddPhase(phase.Link{Bucket: bucket, Tag: tag, Keep: keep})
}

// Filter appends a key-filter phase. Predicates within one call are AND-ed;
// separate calls are OR-ed.
func (p *Pipeline) Filter(preds ...phase.Predicate) *Pipeline {
	return p.AddPhase(phase.KeyFilter{Predicates: preds})
}

// Inputs returns the explicit inputs.
func (p *Pipeline) Inputs() []Input { return p.inputs }

// Bucket returns the scanned bucket, or "" for explicit inputs.
func (p *Pipeline) Bucket() string { return p.bucket }

// Phases returns the phases in insertion order.
func (p *Pipeline) Phases() []phase.Phase { return p.phases }

// FromObject returns a pipeline whose only input is v.
func FromObject(v *object.Version) (*Pipeline, error) {
	if v == nil || v.Key == "" {
		return nil, kverr.Validation("pipeline from object", "object has no key")
	}
	p := New()
	if err := p.AddInput(v.Bucket, v.Key); err != nil {
		return nil, err
	}
	return p, nil
}

// WalkLinks returns a pipeline that follows v's links matching bucket and
// tag. Empty bucket or tag match anything.
func WalkLinks(v *object.Version, bucket, tag string) (*Pipeline, error) {
	p, err := FromObject(v)
	if err != nil {
		return nil, err
	}
	return p.Link(bucket, tag, true), nil
}
