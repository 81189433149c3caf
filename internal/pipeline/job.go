package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/phase"
	"github.com/roach88/kvq/internal/wire"
)

// Job is the JSON form of a pipeline:
//
//	{
//	  "inputs": "bucket" | [["bucket", "key"], ["bucket", "key", arg], ...],
//	  "filters": [[["tokenize", "_", 1], ["eq", "foo"]], ...],
//	  "query": [
//	    {"map":    {"name": "Riak.mapValuesJson", "keep": true}},
//	    {"reduce": {"module": "riak_kv_mapreduce", "function": "reduce_set_union"}},
//	    {"link":   {"bucket": "people", "tag": "friend"}}
//	  ]
//	}
//
// A map or reduce step names its function with exactly one of "source",
// "name", "bucket"+"key", "module"+"function", or "fn" (a bare string read
// the legacy way: source if it contains '{', a name otherwise). Each entry
// of "filters" is one group of AND-ed predicates; groups are OR-ed.
type Job struct {
	Inputs  json.RawMessage   `json:"inputs"`
	Filters [][]wire.Array    `json:"filters,omitempty"`
	Query   []map[string]Step `json:"query"`
}

// Step is one map, reduce or link entry of a Job.
type Step struct {
	Language string          `json:"language,omitempty"`
	Source   string          `json:"source,omitempty"`
	Name     string          `json:"name,omitempty"`
	Fn       string          `json:"fn,omitempty"`
	Bucket   string          `json:"bucket,omitempty"`
	Key      string          `json:"key,omitempty"`
	Module   string          `json:"module,omitempty"`
	Function string          `json:"function,omitempty"`
	Tag      string          `json:"tag,omitempty"`
	Keep     bool            `json:"keep,omitempty"`
	Arg      json.RawMessage `json:"arg,omitempty"`
}

// ParseJob decodes a job document and builds the pipeline it describes.
func ParseJob(data []byte) (*Pipeline, error) {
	var job Job
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return nil, kverr.Validation("job", "decode: %v", err)
	}
	if len(job.Inputs) == 0 {
		return nil, kverr.Validation("job", "job has no inputs")
	}
	p, err := job.Pipeline()
	if err != nil {
		return nil, kverr.Validation("job", "%v", err)
	}
	return p, nil
}

// Pipeline builds the pipeline the job describes.
func (j Job) Pipeline() (*Pipeline, error) {
	p := New()
	if err := j.addInputs(p); err != nil {
		return nil, err
	}

	for _, group := range j.Filters {
		preds := make([]phase.Predicate, 0, len(group))
		for _, tuple := range group {
			pred, err := predicate(tuple)
			if err != nil {
				return nil, err
			}
			preds = append(preds, pred)
		}
		p.Filter(preds...)
	}

	for i, entry := range j.Query {
		if len(entry) != 1 {
			return nil, fmt.Errorf("query[%d]: want exactly one of map, reduce or link", i)
		}
		for kind, st := range entry {
			ph, err := st.phase(kind)
			if err != nil {
				return nil, fmt.Errorf("query[%d]: %w", i, err)
			}
			p.AddPhase(ph)
		}
	}
	return p, nil
}

func (j Job) addInputs(p *Pipeline) error {
	var bucket string
	if err := json.Unmarshal(j.Inputs, &bucket); err == nil {
		return p.AddBucket(bucket)
	}

	var list []wire.Array
	if err := json.Unmarshal(j.Inputs, &list); err != nil {
		return fmt.Errorf("inputs: want a bucket name or a list of [bucket, key(, arg)]")
	}
	for i, in := range list {
		if len(in) < 2 || len(in) > 3 {
			return fmt.Errorf("inputs[%d]: want [bucket, key(, arg)]", i)
		}
		b, ok1 := in[0].(wire.String)
		k, ok2 := in[1].(wire.String)
		if !ok1 || !ok2 {
			return fmt.Errorf("inputs[%d]: bucket and key must be strings", i)
		}
		var arg wire.Value
		if len(in) == 3 {
			arg = in[2]
		}
		if err := p.AddInputArg(string(b), string(k), arg); err != nil {
			return err
		}
	}
	return nil
}

func predicate(tuple wire.Array) (phase.Predicate, error) {
	if len(tuple) == 0 {
		return phase.Predicate{}, fmt.Errorf("filter: empty predicate")
	}
	op, ok := tuple[0].(wire.String)
	if !ok || op == "" {
		return phase.Predicate{}, fmt.Errorf("filter: predicate must start with an operator name")
	}
	return phase.Predicate{Op: string(op), Args: tuple[1:]}, nil
}

func (s Step) phase(kind string) (phase.Phase, error) {
	var arg wire.Value
	if len(s.Arg) > 0 {
		v, err := wire.Decode(s.Arg)
		if err != nil {
			return nil, fmt.Errorf("arg: %w", err)
		}
		arg = v
	}
	lang := phase.Language(s.Language)

	switch kind {
	case "link":
		return phase.Link{Bucket: s.Bucket, Tag: s.Tag, Keep: s.Keep}, nil
	case "map", "reduce":
		fn, err := s.function(lang)
		if err != nil {
			return nil, err
		}
		if kind == "map" {
			return phase.Map{Function: fn, Language: lang, Keep: s.Keep, Arg: arg}, nil
		}
		return phase.Reduce{Function: fn, Language: lang, Keep: s.Keep, Arg: arg}, nil
	default:
		return nil, fmt.Errorf("unknown phase %q", kind)
	}
}

func (s Step) function(lang phase.Language) (phase.Function, error) {
	var fns []phase.Function
	if s.Source != "" {
		fns = append(fns, phase.InlineSource(s.Source))
	}
	if s.Name != "" {
		fns = append(fns, phase.NamedRef(s.Name))
	}
	if s.Fn != "" {
		fns = append(fns, phase.ParseFunction(s.Fn))
	}
	if s.Bucket != "" || s.Key != "" {
		fns = append(fns, phase.ParsePair(s.Bucket, s.Key, phase.JavaScript))
	}
	if s.Module != "" || s.Function != "" {
		fns = append(fns, phase.ParsePair(s.Module, s.Function, phase.Erlang))
	}

	switch len(fns) {
	case 0:
		return nil, fmt.Errorf("no function given")
	case 1:
		return fns[0], nil
	default:
		return nil, fmt.Errorf("several functions given; use one of source, name, fn, bucket+key, module+function")
	}
}
