package index

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvq/internal/kverr"
)

func TestMaterialize_MergesExplicitAndDerived(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.AddExplicit("number", Int, 1))
	require.NoError(t, s.AutoIndex("foo", Int))
	require.NoError(t, s.Derive([]byte(`{"foo":5,"bar":"x"}`)))

	assert.Equal(t, map[string][]string{
		"number_int": {"1"},
		"foo_int":    {"5"},
	}, s.Materialize())
}

func TestMaterialize_SetSemantics(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.AddExplicit("foo", Int, 7))
	require.NoError(t, s.AddExplicit("foo", Int, "7"))
	require.NoError(t, s.AddDerived("foo", Int, 7))
	require.NoError(t, s.AddDerived("foo", Int, 10))
	require.NoError(t, s.AddExplicit("foo", Int, 2))

	assert.Equal(t, map[string][]string{"foo_int": {"2", "7", "10"}}, s.Materialize())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, map[string][]string{"foo_int": {"7"}}, s.Collisions())
}

func TestReplaceDerived_KeepsExplicit(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.AddExplicit("foo", Int, 7))
	require.NoError(t, s.AddDerived("foo", Int, 7))

	require.NoError(t, s.ReplaceDerived("foo", Int, []any{8}))

	assert.Equal(t, []string{"7"}, s.Explicit("foo", Int))
	assert.Equal(t, []string{"8"}, s.Derived("foo", Int))
	assert.Equal(t, map[string][]string{"foo_int": {"7", "8"}}, s.Materialize())
}

func TestRemoveExplicit(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.SetExplicit("tag", Bin, "a", "b", "c"))
	require.NoError(t, s.AddDerived("tag", Bin, "b"))

	require.NoError(t, s.RemoveExplicit("tag", Bin, "b"))
	assert.Equal(t, []string{"a", "c"}, s.Explicit("tag", Bin))
	assert.Equal(t, map[string][]string{"tag_bin": {"a", "b", "c"}}, s.Materialize())

	require.NoError(t, s.RemoveExplicit("tag", Bin))
	assert.Empty(t, s.Explicit("tag", Bin))
	assert.Equal(t, map[string][]string{"tag_bin": {"b"}}, s.Materialize())
}

func TestIntValueMismatchIsConflict(t *testing.T) {
	s := NewSet()

	err := s.AddExplicit("foo", Int, "seven")
	require.Error(t, err)
	assert.True(t, kverr.IsConflict(err))

	require.NoError(t, s.AutoIndex("foo", Int))
	err = s.Derive([]byte(`{"foo":"seven"}`))
	assert.True(t, kverr.IsConflict(err))

	err = s.Derive([]byte(`{"foo":1.5}`))
	assert.True(t, kverr.IsConflict(err))
}

func TestNamesAreNormalized(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.AddExplicit("Email", Bin, "a@example.com"))
	require.NoError(t, s.AddExplicit("EMAIL", Bin, "b@example.com"))

	assert.Equal(t, map[string][]string{"email_bin": {"a@example.com", "b@example.com"}}, s.Materialize())

	err := s.AddExplicit("", Bin, "x")
	assert.True(t, kverr.IsValidation(err))
	err = s.AddExplicit("x", Type("float"), "1")
	assert.True(t, kverr.IsValidation(err))
}

func TestDerive_ArraysAndMissingFields(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.AutoIndex("tags", Bin))
	require.NoError(t, s.AutoIndex("age", Int))

	require.NoError(t, s.Derive([]byte(`{"tags":["x","y","x",null],"age":30}`)))
	assert.Equal(t, map[string][]string{"tags_bin": {"x", "y"}, "age_int": {"30"}}, s.Materialize())

	require.NoError(t, s.Derive([]byte(`{"tags":null}`)))
	assert.Empty(t, s.Materialize())

	require.NoError(t, s.Derive([]byte(`not json`)))
	assert.Empty(t, s.Materialize())
}

func TestRemoveAutoIndex_DropsDerived(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.AutoIndex("foo", Int))
	require.NoError(t, s.Derive([]byte(`{"foo":3}`)))
	require.NoError(t, s.RemoveAutoIndex("foo", Int))

	assert.Empty(t, s.AutoIndexes())
	assert.Empty(t, s.Materialize())
}

func TestAutoMetaAndRestore(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.AutoIndex("foo", Int))
	require.NoError(t, s.AddExplicit("foo", Int, 7))
	require.NoError(t, s.AddExplicit("number", Int, 1))
	require.NoError(t, s.Derive([]byte(`{"foo":7}`)))

	auto, collisions := s.AutoMeta()
	assert.Equal(t, `["foo_int"]`, auto)
	assert.Equal(t, `{"foo_int":["7"]}`, collisions)

	stored := map[Field][]string{
		{Name: "foo", Type: Int}:    {"7"},
		{Name: "number", Type: Int}: {"1"},
	}
	restored, err := Restore(stored, auto, collisions, []byte(`{"foo":7}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"7"}, restored.Explicit("foo", Int))
	assert.Equal(t, []string{"1"}, restored.Explicit("number", Int))

	// Changing the payload moves only the derived value.
	require.NoError(t, restored.Derive([]byte(`{"foo":8}`)))
	assert.Equal(t, map[string][]string{
		"foo_int":    {"7", "8"},
		"number_int": {"1"},
	}, restored.Materialize())
}

func TestRestore_DerivedOnlyValuesAreNotExplicit(t *testing.T) {
	stored := map[Field][]string{{Name: "foo", Type: Int}: {"1"}}
	s, err := Restore(stored, `["foo_int"]`, "", []byte(`{"foo":1}`))
	require.NoError(t, err)

	assert.Empty(t, s.Explicit("foo", Int))
	require.NoError(t, s.Derive([]byte(`{"foo":9}`)))
	assert.Equal(t, map[string][]string{"foo_int": {"9"}}, s.Materialize())
}

func TestRestore_MismatchedPayloadStaysExplicit(t *testing.T) {
	stored := map[Field][]string{{Name: "age", Type: Int}: {"30"}}
	s, err := Restore(stored, `["age_int","tags_int"]`, "", []byte(`{"age":"unknown","tags":[1,"x",2]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"30"}, s.Explicit("age", Int))
	assert.Empty(t, s.Derived("age", Int))
	assert.Equal(t, []string{"1", "2"}, s.Derived("tags", Int))

	err = s.Derive([]byte(`{"age":"unknown"}`))
	assert.True(t, kverr.IsConflict(err))
}

func TestRestore_BadMeta(t *testing.T) {
	_, err := Restore(nil, `{`, "", nil)
	assert.True(t, kverr.IsMalformed(err))

	_, err = Restore(nil, `["nosuffix"]`, "", nil)
	assert.True(t, kverr.IsMalformed(err))

	_, err = Restore(nil, "", `[1]`, nil)
	assert.True(t, kverr.IsMalformed(err))
}

func TestHeadersRoundTrip(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.SetExplicit("foo", Int, 10, 2))
	require.NoError(t, s.AddExplicit("name", Bin, "ann"))

	h := http.Header{}
	s.WriteHeaders(h)
	assert.Equal(t, []string{"2, 10"}, h["X-Riak-Index-foo_int"])

	// Servers may canonicalize header names.
	h2 := http.Header{}
	h2.Set("X-Riak-Index-Foo_int", "2, 10")
	h2.Add("x-riak-index-name_bin", "ann")
	h2.Set("X-Riak-Index-Broken", "1")
	h2.Set("X-Riak-Meta-Other", "z")

	assert.Equal(t, map[Field][]string{
		{Name: "foo", Type: Int}:  {"2", "10"},
		{Name: "name", Type: Bin}: {"ann"},
	}, ParseHeaders(h2))
}

func TestParseField(t *testing.T) {
	f, err := ParseField("Last_Name_BIN")
	require.NoError(t, err)
	assert.Equal(t, Field{Name: "last_name", Type: Bin}, f)

	_, err = ParseField("_int")
	assert.Error(t, err)
	_, err = ParseField("foo_float")
	assert.Error(t, err)
}
