package scenario

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with the matching golden file. Run with -update to rewrite them.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		sc, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(sc.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, sc)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed:\n%v", result.Errors)
		})
	}
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "one",
		Trace:        []TraceEvent{{Seq: 1, Op: "fetch", Method: "GET", Path: "/riak/b/k", Status: 404}},
	}
	data, err := snap.Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"one","trace":[{"method":"GET","op":"fetch","path":"/riak/b/k","seq":1,"status":404}]}`,
		string(data))

	empty, err := TraceSnapshot{ScenarioName: "none"}.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"none","trace":[]}`, string(empty))
}
