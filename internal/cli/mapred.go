package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/kvq/internal/pipeline"
)

// MapredOptions holds flags for the mapred command.
type MapredOptions struct {
	*RootOptions
	File        string
	Job         string
	CompileOnly bool
}

// NewMapredCommand creates the mapred command.
func NewMapredCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MapredOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mapred",
		Short: "Run a map/reduce pipeline",
		Long: `Run a map/reduce pipeline described by a JSON job:

  {
    "inputs": "users",
    "filters": [[["starts_with", "a"]]],
    "query": [
      {"map":    {"name": "Riak.mapValuesJson"}},
      {"reduce": {"module": "riak_kv_mapreduce", "function": "reduce_set_union", "keep": true}}
    ]
  }

"inputs" is a bucket name or a list of [bucket, key] or [bucket, key, arg].
A map or reduce step names its function with one of source, name, fn,
bucket+key or module+function. The last phase is kept when no phase is.

Examples:
  kvq mapred --file job.json
  kvq mapred --job '{"inputs":[["b","k"]],"query":[{"map":{"name":"Riak.mapValues"}}]}'
  cat job.json | kvq mapred --file - --compile-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMapred(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the job from a file (- for stdin)")
	cmd.Flags().StringVar(&opts.Job, "job", "", "job document")
	cmd.Flags().BoolVar(&opts.CompileOnly, "compile-only", false, "print the request body without sending it")
	cmd.MarkFlagsMutuallyExclusive("file", "job")
	cmd.MarkFlagsOneRequired("file", "job")

	return cmd
}

func runMapred(cmd *cobra.Command, opts *MapredOptions) error {
	data, err := readPayload(cmd, opts.Job, opts.File)
	if err != nil {
		return err
	}
	p, err := pipeline.ParseJob(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid job", err)
	}

	if opts.CompileOnly {
		body, err := p.Compile()
		if err != nil {
			return operationError("compile failed", err)
		}
		return opts.formatter(cmd).Success(CompiledJob{Request: json.RawMessage(body)})
	}

	return run(cmd, opts.RootOptions, func(s *session) error {
		s.out.VerboseLog("running pipeline with %d phases", len(p.Phases()))
		res, err := s.client.Execute(cmd.Context(), p)
		if err != nil {
			return operationError("map/reduce failed", err)
		}
		return s.out.Success(newMapredResult(res))
	})
}

// CompiledJob is the output of mapred --compile-only.
type CompiledJob struct {
	Request json.RawMessage `json:"request"`
}

// WriteText prints the request body.
func (c CompiledJob) WriteText(w io.Writer, verbose bool) error {
	_, err := fmt.Fprintln(w, string(c.Request))
	return err
}

// MapredResult is the output of mapred: one result list per kept phase.
type MapredResult struct {
	Phases [][]json.RawMessage `json:"phases"`
}

func newMapredResult(res *pipeline.Results) MapredResult {
	out := MapredResult{Phases: [][]json.RawMessage{}}
	for _, b := range res.All() {
		items := []json.RawMessage(b)
		if items == nil {
			items = []json.RawMessage{}
		}
		out.Phases = append(out.Phases, items)
	}
	return out
}

// WriteText prints one item per line. Several kept phases are separated by
// a "# phase N" header.
func (r MapredResult) WriteText(w io.Writer, verbose bool) error {
	for i, items := range r.Phases {
		if len(r.Phases) > 1 {
			fmt.Fprintf(w, "# phase %d (%d results)\n", i, len(items))
		}
		for _, item := range items {
			fmt.Fprintln(w, string(item))
		}
	}
	return nil
}
