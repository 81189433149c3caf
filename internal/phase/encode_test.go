package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/wire"
)

func encodeString(t *testing.T, p Phase) string {
	t.Helper()
	obj, err := Encode(p)
	require.NoError(t, err)
	return string(wire.MustEncode(obj))
}

func TestEncode_DispatchTable(t *testing.T) {
	testCases := []struct {
		name  string
		phase Phase
		want  string
	}{
		{
			name:  "javascript stored function",
			phase: Map{Function: StoredRef{Bucket: "fns", Key: "mapper"}},
			want:  `{"map":{"arg":null,"bucket":"fns","keep":false,"key":"mapper","language":"javascript"}}`,
		},
		{
			name:  "javascript inline source",
			phase: Map{Function: InlineSource("function (v) { return [1]; }"), Keep: true},
			want:  `{"map":{"arg":null,"keep":true,"language":"javascript","source":"function (v) { return [1]; }"}}`,
		},
		{
			name:  "javascript named function",
			phase: Reduce{Function: NamedRef("Riak.reduceSum"), Keep: true},
			want:  `{"reduce":{"arg":null,"keep":true,"language":"javascript","name":"Riak.reduceSum"}}`,
		},
		{
			name:  "erlang module function",
			phase: &Reduce{Function: ModuleRef{Module: "riak_kv_mapreduce", Function: "reduce_set_union"}},
			want:  `{"reduce":{"arg":null,"function":"reduce_set_union","keep":false,"language":"erlang","module":"riak_kv_mapreduce"}}`,
		},
		{
			name:  "float argument",
			phase: Reduce{Function: NamedRef("Riak.reduceSort"), Arg: wire.Float(0.25)},
			want:  `{"reduce":{"arg":0.25,"keep":false,"language":"javascript","name":"Riak.reduceSort"}}`,
		},
		{
			name:  "argument is passed through",
			phase: Map{Function: NamedRef("Riak.mapByFields"), Arg: wire.Object{"state": wire.String("ok")}},
			want:  `{"map":{"arg":{"state":"ok"},"keep":false,"language":"javascript","name":"Riak.mapByFields"}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, encodeString(t, tc.phase))
		})
	}
}

func TestEncode_UnsupportedCombinations(t *testing.T) {
	testCases := []struct {
		name  string
		phase Phase
	}{
		{name: "inline source in erlang", phase: Map{Function: InlineSource("function(v) { }"), Language: Erlang}},
		{name: "named function in erlang", phase: Map{Function: NamedRef("Riak.mapValues"), Language: Erlang}},
		{name: "stored function in erlang", phase: Reduce{Function: StoredRef{Bucket: "b", Key: "k"}, Language: Erlang}},
		{name: "module in javascript", phase: Map{Function: ModuleRef{Module: "m", Function: "f"}, Language: JavaScript}},
		{name: "missing function", phase: Map{}},
		{name: "nil phase", phase: nil},
		{name: "key filter", phase: KeyFilter{Predicates: []Predicate{Eq(wire.String("x"))}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.phase)
			require.Error(t, err)
			assert.True(t, kverr.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestEncode_Link(t *testing.T) {
	assert.Equal(t,
		`{"link":{"bucket":"people","keep":true,"tag":"friend"}}`,
		encodeString(t, Link{Bucket: "people", Tag: "friend", Keep: true}))

	assert.Equal(t,
		`{"link":{"bucket":"_","keep":false,"tag":"_"}}`,
		encodeString(t, &Link{}))
}

func TestEncode_NoNullPlaceholders(t *testing.T) {
	obj, err := Encode(Map{Function: NamedRef("Riak.mapValuesJson")})
	require.NoError(t, err)

	step := obj["map"].(wire.Object)
	for _, absent := range []string{"source", "bucket", "key", "module", "function"} {
		_, present := step[absent]
		assert.False(t, present, "field %q must be omitted", absent)
	}
}

func TestEncodeFilters(t *testing.T) {
	g1 := KeyFilter{Predicates: []Predicate{Tokenize("_", 1), Eq(wire.String("foo"))}}
	g2 := KeyFilter{Predicates: []Predicate{EndsWith("five")}}
	g3 := KeyFilter{Predicates: []Predicate{StartsWith("moo")}}

	testCases := []struct {
		name   string
		groups []KeyFilter
		want   string
	}{
		{
			name:   "single group",
			groups: []KeyFilter{g1},
			want:   `[["tokenize","_",1],["eq","foo"]]`,
		},
		{
			name:   "two groups",
			groups: []KeyFilter{g1, g2},
			want:   `[["or",[["tokenize","_",1],["eq","foo"]],[["ends_with","five"]]]]`,
		},
		{
			name:   "three groups nest left",
			groups: []KeyFilter{g1, g2, g3},
			want:   `[["or",[["or",[["tokenize","_",1],["eq","foo"]],[["ends_with","five"]]]],[["starts_with","moo"]]]]`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			arr, err := EncodeFilters(tc.groups)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(wire.MustEncode(arr)))
		})
	}
}

func TestEncodeFilters_Empty(t *testing.T) {
	arr, err := EncodeFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, arr)

	_, err = EncodeFilters([]KeyFilter{{}})
	assert.True(t, kverr.IsValidation(err))

	_, err = EncodeFilters([]KeyFilter{{Predicates: []Predicate{{}}}})
	assert.True(t, kverr.IsValidation(err))
}

func TestWithKeep_DoesNotMutate(t *testing.T) {
	m := &Map{Function: NamedRef("Riak.mapValues")}
	kept := WithKeep(m, true)

	assert.True(t, Keeps(kept))
	assert.False(t, m.Keep)
	assert.False(t, Keeps(KeyFilter{}))
}

func TestParseFunction(t *testing.T) {
	assert.Equal(t, NamedRef("Riak.mapValuesJson"), ParseFunction("Riak.mapValuesJson"))
	assert.Equal(t,
		InlineSource("function (v) { return [1]; }"),
		ParseFunction("function (v) { return [1]; }"))

	assert.Equal(t, StoredRef{Bucket: "b", Key: "k"}, ParsePair("b", "k", JavaScript))
	assert.Equal(t, ModuleRef{Module: "m", Function: "f"}, ParsePair("m", "f", Erlang))
	assert.Equal(t, Erlang, InferLanguage(ModuleRef{}))
	assert.Equal(t, JavaScript, InferLanguage(NamedRef("x")))
}

func TestPredicates(t *testing.T) {
	testCases := []struct {
		pred Predicate
		want string
	}{
		{pred: Between(wire.Int(1), wire.Int(5)), want: `["between",1,5]`},
		{pred: SetMember(wire.String("a"), wire.String("b")), want: `["set_member","a","b"]`},
		{pred: SimilarTo("foo", 2), want: `["similar_to","foo",2]`},
		{pred: StringToInt(), want: `["string_to_int"]`},
		{pred: Matches("^f"), want: `["matches","^f"]`},
	}

	for _, tc := range testCases {
		t.Run(tc.pred.Op, func(t *testing.T) {
			arr, err := encodeGroup(KeyFilter{Predicates: []Predicate{tc.pred}})
			require.NoError(t, err)
			assert.Equal(t, "["+tc.want+"]", string(wire.MustEncode(arr)))
		})
	}
}

func TestEncode_NilPointerPhases(t *testing.T) {
	for _, p := range []Phase{nil, (*Map)(nil), (*Reduce)(nil), (*Link)(nil), (*KeyFilter)(nil)} {
		_, err := Encode(p)
		require.Error(t, err, "%T", p)
		assert.True(t, kverr.IsValidation(err), "%T: %v", p, err)

		assert.False(t, Keeps(p))
		assert.Equal(t, p, WithKeep(p, true))
	}

	got, err := Deref(&Map{Function: NamedRef("f"), Keep: true})
	require.NoError(t, err)
	assert.Equal(t, Map{Function: NamedRef("f"), Keep: true}, got)
}

func TestFloatFilterOperands(t *testing.T) {
	enc, err := EncodeFilters([]KeyFilter{{Predicates: []Predicate{StringToFloat(), GreaterThan(wire.Float(1.5))}}})
	require.NoError(t, err)
	assert.Equal(t, `[["string_to_float"],["greater_than",1.5]]`, string(wire.MustEncode(enc)))
}
