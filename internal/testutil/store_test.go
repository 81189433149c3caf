package testutil

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvq/internal/transport"
)

func do(t *testing.T, tr transport.Transport, method, path string, header http.Header, body string) *transport.Response {
	t.Helper()
	if header == nil {
		header = http.Header{}
	}
	resp, err := tr.Do(context.Background(), &transport.Request{Method: method, Path: path, Header: header, Body: []byte(body)})
	require.NoError(t, err)
	return resp
}

func TestStore_PutGetDelete(t *testing.T) {
	s := NewStore()

	resp := do(t, s, http.MethodPut, "/riak/b/k?returnbody=true",
		http.Header{"Content-Type": {"application/json"}, "X-Riak-Meta-Owner": {"ann"}}, `{"a":1}`)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.NotEmpty(t, resp.Header.Get("X-Riak-Vclock"))
	assert.Equal(t, `{"a":1}`, string(resp.Body))

	resp = do(t, s, http.MethodGet, "/riak/b/k", nil, "")
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []string{"ann"}, resp.Header["X-Riak-Meta-owner"])
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))

	resp = do(t, s, http.MethodDelete, "/riak/b/k", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.Status)
	resp = do(t, s, http.MethodGet, "/riak/b/k", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Status)
	resp = do(t, s, http.MethodDelete, "/riak/b/k", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestStore_SiblingsFollowAllowMult(t *testing.T) {
	s := NewStore()
	do(t, s, http.MethodPut, "/riak/b?", http.Header{}, `{"props":{"allow_mult":true}}`)

	for _, body := range []string{`1`, `2`, `3`} {
		do(t, s, http.MethodPut, "/riak/b/k", http.Header{"Content-Type": {"application/json"}}, body)
	}
	assert.Equal(t, 3, s.SiblingCount("b", "k"))

	resp := do(t, s, http.MethodGet, "/riak/b/k", nil, "")
	assert.Equal(t, http.StatusMultipleChoices, resp.Status)
	assert.Contains(t, resp.Header.Get("Content-Type"), "multipart/mixed")

	vclock := resp.Header.Get("X-Riak-Vclock")
	do(t, s, http.MethodPut, "/riak/b/k", http.Header{"X-Riak-Vclock": {vclock}}, `4`)
	assert.Equal(t, 1, s.SiblingCount("b", "k"))

	resp = do(t, s, http.MethodPut, "/riak/b/k", http.Header{"X-Riak-Vclock": {"!!"}}, `5`)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestStore_LastWriteWinsWithoutAllowMult(t *testing.T) {
	s := NewStore()
	do(t, s, http.MethodPut, "/riak/b/k", nil, `1`)
	do(t, s, http.MethodPut, "/riak/b/k", nil, `2`)

	assert.Equal(t, 1, s.SiblingCount("b", "k"))
	assert.Equal(t, `2`, string(do(t, s, http.MethodGet, "/riak/b/k", nil, "").Body))
}

func TestStore_PostAssignsKey(t *testing.T) {
	s := NewStore(WithKeys(NewSequentialKeys("auto-")))

	resp := do(t, s, http.MethodPost, "/riak/b?returnbody=true", nil, `1`)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "/riak/b/auto-1", resp.Header.Get("Location"))
	assert.Equal(t, 1, s.SiblingCount("b", "auto-1"))
}

func TestStore_Props(t *testing.T) {
	s := NewStore()
	resp := do(t, s, http.MethodGet, "/riak/b?props=true&keys=false", nil, "")
	assert.JSONEq(t, `{"props":{"name":"b","allow_mult":false,"n_val":3}}`, string(resp.Body))

	resp = do(t, s, http.MethodPut, "/riak/b", nil, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestStore_Ping(t *testing.T) {
	s := NewStore()
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/ping", nil, "").Status)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/nowhere/at/all/x", nil, "").Status)
	assert.Len(t, s.Requests(), 2)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStore().Do(ctx, &transport.Request{Method: http.MethodGet, Path: "/ping"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_MapReduceErrors(t *testing.T) {
	s := NewStore()

	resp := do(t, s, http.MethodPost, "/mapred", nil, `{`)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = do(t, s, http.MethodPost, "/mapred", nil, `{"inputs":[["b"]],"query":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = do(t, s, http.MethodPost, "/mapred", nil,
		`{"inputs":"b","query":[{"map":{"language":"javascript","name":"Riak.nope","keep":true}}]}`)
	assert.Equal(t, http.StatusOK, resp.Status, "empty bucket never calls the function")

	do(t, s, http.MethodPut, "/riak/b/k", nil, `1`)
	resp = do(t, s, http.MethodPost, "/mapred", nil,
		`{"inputs":"b","query":[{"map":{"language":"javascript","name":"Riak.nope","keep":true}}]}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Contains(t, string(resp.Body), "Riak.nope")
}

func TestScripted(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted(Respond(http.StatusOK, nil, "OK"), Fail(boom))

	resp, err := s.Do(context.Background(), &transport.Request{Method: http.MethodGet, Path: "/ping"})
	require.NoError(t, err)
	assert.Equal(t, "OK", string(resp.Body))

	_, err = s.Do(context.Background(), &transport.Request{Method: http.MethodGet, Path: "/ping"})
	assert.ErrorIs(t, err, boom)

	_, err = s.Do(context.Background(), &transport.Request{Method: http.MethodGet, Path: "/extra"})
	assert.Error(t, err)
	assert.Equal(t, "/extra", s.Last().Path)
	assert.Len(t, s.Requests(), 3)
	assert.Equal(t, 0, s.Remaining())
}
