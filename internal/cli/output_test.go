package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvq/internal/kverr"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(IndexResult{Bucket: "users", Index: "age_int", Keys: []string{"ann"}})
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   IndexResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"ann"}, resp.Data.Keys)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("VALIDATION", "bucket is required", nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
	assert.Equal(t, "bucket is required", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success("OK"))
	assert.Equal(t, "OK\n", buf.String())
}

func TestOutputFormatter_TextSuccessUsesWriteText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(IndexResult{Keys: []string{"a", "b"}}))
	assert.Equal(t, "a\nb\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("CONFLICT", "stale vclock", "details hidden")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [CONFLICT]")
	assert.Contains(t, buf.String(), "stale vclock")
	assert.NotContains(t, buf.String(), "details hidden")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("TRANSPORT", "unexpected status", "internal error")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [TRANSPORT]")
	assert.Contains(t, buf.String(), "Details: internal error")
}

func TestOutputFormatter_Failure(t *testing.T) {
	statusErr := operationError("fetch failed", kverr.Status("fetch", 503, []byte("overloaded")))

	t.Run("json carries status and body", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "json", Writer: buf}
		require.NoError(t, formatter.Failure(statusErr))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "TRANSPORT", resp.Error.Code)
		assert.Equal(t, 503, resp.Error.Status)
		assert.Equal(t, "overloaded", resp.Error.Details)
		assert.Contains(t, resp.Error.Message, "fetch failed")
	})

	t.Run("plain errors are usage errors", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		require.NoError(t, formatter.Failure(NewExitError(ExitCommandError, "bad flag")))
		assert.Equal(t, "Error [USAGE]: bad flag\n", buf.String())
	})
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("fetching %s", "users/ann")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "fetching users/ann")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestGetErrWriter_FallsBackToWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Writer: buf}
	assert.Equal(t, io.Writer(buf), formatter.GetErrWriter())
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"conflict", operationError("store", kverr.Conflict("store", "stale")), ExitConflict},
		{"validation", operationError("store", kverr.Validation("store", "no bucket")), ExitCommandError},
		{"status", operationError("fetch", kverr.Status("fetch", 500, nil)), ExitFailure},
		{"malformed", operationError("fetch", kverr.Malformed("fetch", nil, "bad body")), ExitFailure},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "x")), ExitCommandError},
		{"plain error", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())

	err := WrapExitError(ExitFailure, "fetch failed", errors.New("timeout"))
	assert.Equal(t, "fetch failed: timeout", err.Error())
	assert.ErrorContains(t, errors.Unwrap(err), "timeout")
}
