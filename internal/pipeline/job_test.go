package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/phase"
)

// Jobs compile to the same documents as the equivalent builder calls.
func TestParseJob_Golden(t *testing.T) {
	tests := []struct {
		name string
		job  string
	}{
		{
			name: "explicit_inputs_map_reduce",
			job: `{
				"inputs": [["people","ann"],["people","bob"],["people","cat",{"weight":2}]],
				"query": [
					{"map": {"name": "Riak.mapValuesJson"}},
					{"reduce": {"name": "Riak.reduceSum", "keep": true}}
				]
			}`,
		},
		{
			name: "key_filters_or",
			job: `{
				"inputs": "users",
				"filters": [[["tokenize","_",1],["eq","foo"]], [["ends_with","five"]]],
				"query": []
			}`,
		},
		{
			name: "link_walk",
			job:  `{"inputs": [["people","ann"]], "query": [{"link": {"tag": "friend"}}]}`,
		},
		{
			name: "bucket_scan_all_languages",
			job: `{
				"inputs": "logs",
				"query": [
					{"map": {"bucket": "fns", "key": "extract"}},
					{"map": {"fn": "function(v) { return [v.key]; }"}},
					{"reduce": {"module": "riak_kv_mapreduce", "function": "reduce_set_union", "arg": {"limit": 10}}}
				]
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseJob([]byte(tt.job))
			require.NoError(t, err)
			assertGolden(t, tt.name, p)
		})
	}
}

func TestParseJob_Phases(t *testing.T) {
	p, err := ParseJob([]byte(`{
		"inputs": [["b","k"]],
		"query": [
			{"map": {"source": "function(v) { return [1]; }", "language": "javascript", "keep": true}},
			{"link": {"bucket": "people", "tag": "friend", "keep": true}},
			{"reduce": {"fn": "Riak.reduceSum"}}
		]
	}`))
	require.NoError(t, err)

	require.Len(t, p.Phases(), 3)
	m, ok := p.Phases()[0].(phase.Map)
	require.True(t, ok)
	assert.Equal(t, phase.InlineSource("function(v) { return [1]; }"), m.Function)
	assert.Equal(t, phase.JavaScript, m.Language)
	assert.True(t, m.Keep)

	assert.Equal(t, phase.Link{Bucket: "people", Tag: "friend", Keep: true}, p.Phases()[1])

	r, ok := p.Phases()[2].(phase.Reduce)
	require.True(t, ok)
	assert.Equal(t, phase.NamedRef("Riak.reduceSum"), r.Function)
}

func TestParseJob_Floats(t *testing.T) {
	job := `{
		"inputs": "sensors",
		"filters": [[["string_to_float"],["greater_than",1.5]]],
		"query": [{"map": {"name": "Riak.mapValuesJson", "arg": {"scale": 0.25}}}]
	}`
	p, err := ParseJob([]byte(job))
	require.NoError(t, err)

	first, err := p.Compile()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"inputs": {"bucket": "sensors", "key_filters": [["string_to_float"],["greater_than",1.5]]},
		"query": [{"map": {"arg": {"scale": 0.25}, "keep": true, "language": "javascript", "name": "Riak.mapValuesJson"}}]
	}`, string(first))

	again, err := ParseJob([]byte(job))
	require.NoError(t, err)
	second, err := again.Compile()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	p, err = ParseJob([]byte(`{"inputs":[["b","k",0.5]],"query":[{"map":{"name":"f","arg":0.25}}]}`))
	require.NoError(t, err)
	doc, err := p.Compile()
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"inputs":[["b","k",0.5]]`)
	assert.Contains(t, string(doc), `"arg":0.25`)
}

func TestParseJob_Errors(t *testing.T) {
	tests := []struct {
		name    string
		job     string
		message string
	}{
		{"not json", `{`, "decode"},
		{"unknown field", `{"inputs":"b","query":[],"extra":1}`, "decode"},
		{"no inputs", `{"query":[]}`, "no inputs"},
		{"bad inputs", `{"inputs":5,"query":[]}`, "inputs"},
		{"short input", `{"inputs":[["b"]],"query":[]}`, "inputs[0]"},
		{"non-string key", `{"inputs":[["b",1]],"query":[]}`, "must be strings"},
		{"two phases in one entry", `{"inputs":"b","query":[{"map":{"name":"f"},"reduce":{"name":"g"}}]}`, "exactly one"},
		{"unknown phase", `{"inputs":"b","query":[{"sort":{}}]}`, "unknown phase"},
		{"no function", `{"inputs":"b","query":[{"map":{}}]}`, "no function given"},
		{"two functions", `{"inputs":"b","query":[{"map":{"name":"f","source":"function(){}"}}]}`, "several functions"},
		{"non-finite number", `{"inputs":"b","query":[{"map":{"name":"f","arg":1e999}}]}`, "arg"},
		{"empty predicate", `{"inputs":"b","filters":[[[]]],"query":[]}`, "empty predicate"},
		{"predicate without operator", `{"inputs":"b","filters":[[[1]]],"query":[]}`, "operator name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJob([]byte(tt.job))
			require.Error(t, err)
			assert.True(t, kverr.IsValidation(err), "%v", err)
			assert.ErrorContains(t, err, tt.message)
		})
	}
}
