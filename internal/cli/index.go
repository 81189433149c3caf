package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/kvq/internal/index"
)

// IndexOptions holds flags for the index command.
type IndexOptions struct {
	*RootOptions
	Dedupe bool
}

// NewIndexCommand creates the index command.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "index <bucket> <name_type> <value> [high]",
		Short: "Query a secondary index",
		Long: `List the keys whose index matches a value, or falls in the inclusive
range [value, high] when high is given.

Examples:
  kvq index users email_bin ann@example.com
  kvq index users age_int 20 29 --dedupe`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildIndexQuery(args, opts.Dedupe)
			if err != nil {
				return err
			}
			return run(cmd, opts.RootOptions, func(s *session) error {
				keys, err := s.client.IndexQuery(cmd.Context(), q)
				if err != nil {
					return operationError("index query failed", err)
				}
				if keys == nil {
					keys = []string{}
				}
				return s.out.Success(IndexResult{Bucket: q.Bucket, Index: q.Field.String(), Keys: keys})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Dedupe, "dedupe", false, "list each key once in range results")
	return cmd
}

func buildIndexQuery(args []string, dedupe bool) (index.Query, error) {
	f, err := index.ParseField(args[1])
	if err != nil {
		return index.Query{}, WrapExitError(ExitCommandError, "invalid index name", err)
	}

	var q index.Query
	if len(args) == 4 {
		q, err = index.Between(args[0], f.Name, f.Type, args[2], args[3], dedupe)
	} else {
		q, err = index.Exact(args[0], f.Name, f.Type, args[2])
	}
	if err != nil {
		return index.Query{}, operationError("invalid index query", err)
	}
	return q, nil
}

// IndexResult is the output of index.
type IndexResult struct {
	Bucket string   `json:"bucket"`
	Index  string   `json:"index"`
	Keys   []string `json:"keys"`
}

// WriteText prints one key per line.
func (r IndexResult) WriteText(w io.Writer, verbose bool) error {
	if verbose {
		fmt.Fprintf(w, "# %s %s: %d keys\n", r.Bucket, r.Index, len(r.Keys))
	}
	for _, k := range r.Keys {
		fmt.Fprintln(w, k)
	}
	return nil
}
