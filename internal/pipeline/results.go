package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/object"
)

// ResultBucket holds the raw items produced by one kept phase.
type ResultBucket []json.RawMessage

// Decode unmarshals item i into out.
func (b ResultBucket) Decode(i int, out any) error {
	if i < 0 || i >= len(b) {
		return fmt.Errorf("result item %d out of range [0,%d)", i, len(b))
	}
	if err := json.Unmarshal(b[i], out); err != nil {
		return fmt.Errorf("decode result item %d: %w", i, err)
	}
	return nil
}

// Links converts the [bucket, key, tag] triples a link phase returns into
// object links.
func (b ResultBucket) Links() ([]object.Link, error) {
	out := make([]object.Link, 0, len(b))
	for i, raw := range b {
		var triple []string
		if err := json.Unmarshal(raw, &triple); err != nil || len(triple) < 2 || len(triple) > 3 {
			return nil, kverr.Malformed("link results", err, "item %d is not a [bucket, key, tag] triple", i)
		}
		tag := ""
		if len(triple) == 3 {
			tag = triple[2]
		}
		out = append(out, object.NewLink(triple[0], triple[1], tag))
	}
	return out, nil
}

// Results is the decoded response of a pipeline execution: one bucket per
// kept phase, in phase order.
type Results struct {
	buckets []ResultBucket
}

// Single returns the bucket of the last kept phase.
func (r *Results) Single() ResultBucket {
	if r == nil || len(r.buckets) == 0 {
		return nil
	}
	return r.buckets[len(r.buckets)-1]
}

// All returns every kept bucket in phase order.
func (r *Results) All() []ResultBucket {
	if r == nil {
		return nil
	}
	return r.buckets
}

// DecodeResults parses a response to this pipeline. With one kept phase
// the body is that phase's flat array; with several it is an array of
// per-phase arrays whose length must match the kept count.
func (p *Pipeline) DecodeResults(body []byte) (*Results, error) {
	var top []json.RawMessage
	if err := decodeArray(body, &top); err != nil {
		return nil, kverr.Malformed("decode results", err, "response is not a JSON array")
	}

	kept := p.keptCount()
	if kept == 1 {
		return &Results{buckets: []ResultBucket{ResultBucket(top)}}, nil
	}

	if len(top) != kept {
		return nil, kverr.Malformed("decode results", nil,
			"expected %d result buckets for %d kept phases, got %d", kept, kept, len(top))
	}
	buckets := make([]ResultBucket, 0, kept)
	for i, raw := range top {
		var items []json.RawMessage
		if err := decodeArray(raw, &items); err != nil {
			return nil, kverr.Malformed("decode results", err, "result bucket %d is not an array", i)
		}
		buckets = append(buckets, ResultBucket(items))
	}
	return &Results{buckets: buckets}, nil
}

func decodeArray(data []byte, out *[]json.RawMessage) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return fmt.Errorf("expected array")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return err
	}
	if *out == nil {
		*out = []json.RawMessage{}
	}
	return nil
}
