package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvq/internal/kverr"
)

func TestQueryPath(t *testing.T) {
	q, err := Exact("users", "Email", Bin, "a b@example.com")
	require.NoError(t, err)
	require.NoError(t, q.Validate())
	assert.Equal(t, "/buckets/users/index/email_bin/a%20b@example.com", q.Path())

	q, err = Between("users", "age", Int, 18, "65", true)
	require.NoError(t, err)
	assert.Equal(t, "/buckets/users/index/age_int/18/65", q.Path())
	assert.True(t, q.Dedupe)
}

func TestQueryValidation(t *testing.T) {
	_, err := Exact("users", "age", Int, "old")
	assert.True(t, kverr.IsConflict(err))

	_, err = Between("users", "age", Int, 1, "x", false)
	assert.True(t, kverr.IsConflict(err))

	q, err := Exact("", "age", Int, 1)
	require.NoError(t, err)
	assert.True(t, kverr.IsValidation(q.Validate()))

	assert.True(t, kverr.IsValidation(Query{Bucket: "b", Field: Field{Name: "x", Type: "float"}}.Validate()))
}

func TestDecodeKeys(t *testing.T) {
	body := []byte(`{"keys":["a","b","a","c","b"]}`)

	keys, err := DecodeKeys(body, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a", "c", "b"}, keys)

	keys, err = DecodeKeys(body, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	keys, err = DecodeKeys([]byte(`{"keys":[]}`), true)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDecodeKeys_Malformed(t *testing.T) {
	for _, body := range []string{`[]`, `{"results":[]}`, `{"keys":"a"}`, ``} {
		_, err := DecodeKeys([]byte(body), false)
		assert.True(t, kverr.IsMalformed(err), "body %q", body)
	}
}
