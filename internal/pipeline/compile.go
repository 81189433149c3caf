package pipeline

import (
	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/phase"
	"github.com/roach88/kvq/internal/wire"
)

// IdentityReduce is appended when a pipeline has no map, reduce or link
// phase, so the matched inputs come back as the result.
var IdentityReduce = phase.Reduce{
	Function: phase.ModuleRef{Module: "riak_kv_mapreduce", Function: "reduce_identity"},
}

// Compile returns the wire document for the pipeline:
//
//	{"inputs": <inputs>, "query": [<phase>, ...]}
//
// Output is canonical JSON, so compiling an unchanged pipeline is
// byte-identical every time.
func (p *Pipeline) Compile() ([]byte, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}
	return wire.Encode(doc)
}

// Document returns the compiled document as a wire value.
func (p *Pipeline) Document() (wire.Object, error) {
	for i, ph := range p.phases {
		if _, err := phase.Deref(ph); err != nil {
			return nil, kverr.Validation("compile", "phase %d: %v", i, err)
		}
	}

	inputs, err := p.encodeInputs()
	if err != nil {
		return nil, err
	}

	steps := p.plan()
	query := make(wire.Array, 0, len(steps))
	for i, ph := range steps {
		enc, err := phase.Encode(ph)
		if err != nil {
			return nil, kverr.Validation("compile", "phase %d: %v", i, err)
		}
		query = append(query, enc)
	}

	return wire.Object{
		"inputs": inputs,
		"query":  query,
	}, nil
}

// plan returns the phases sent in the query: key filters removed, an
// identity reduce appended when nothing else remains, and the last phase
// kept when no phase is. The pipeline itself is not modified.
func (p *Pipeline) plan() []phase.Phase {
	steps := make([]phase.Phase, 0, len(p.phases)+1)
	for _, ph := range p.phases {
		if !phase.IsKeyFilter(ph) {
			steps = append(steps, ph)
		}
	}
	if len(steps) == 0 {
		steps = append(steps, IdentityReduce)
	}

	for _, ph := range steps {
		if phase.Keeps(ph) {
			return steps
		}
	}
	last := len(steps) - 1
	steps[last] = phase.WithKeep(steps[last], true)
	return steps
}

// keptCount returns how many result buckets a response carries.
func (p *Pipeline) keptCount() int {
	n := 0
	for _, ph := range p.plan() {
		if phase.Keeps(ph) {
			n++
		}
	}
	return n
}

func (p *Pipeline) filters() []phase.KeyFilter {
	var out []phase.KeyFilter
	for _, ph := range p.phases {
		switch f := ph.(type) {
		case phase.KeyFilter:
			out = append(out, f)
		case *phase.KeyFilter:
			if f != nil {
				out = append(out, *f)
			}
		}
	}
	return out
}

func (p *Pipeline) encodeInputs() (wire.Value, error) {
	filters := p.filters()

	if p.bucket != "" {
		if len(filters) == 0 {
			return wire.String(p.bucket), nil
		}
		enc, err := phase.EncodeFilters(filters)
		if err != nil {
			return nil, err
		}
		return wire.Object{
			"bucket":      wire.String(p.bucket),
			"key_filters": enc,
		}, nil
	}

	if len(filters) > 0 {
		return nil, kverr.Validation("compile", "key filters need a bucket input")
	}
	if len(p.inputs) == 0 {
		return nil, kverr.Validation("compile", "pipeline has no inputs")
	}

	out := make(wire.Array, 0, len(p.inputs))
	for _, in := range p.inputs {
		tuple := wire.Array{wire.String(in.Bucket), wire.String(in.Key)}
		if in.Arg != nil {
			tuple = append(tuple, in.Arg)
		}
		out = append(out, tuple)
	}
	return out, nil
}
