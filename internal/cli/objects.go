package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kvq/internal/index"
	"github.com/roach88/kvq/internal/object"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <bucket> <key>",
		Short: "Fetch an object and all of its siblings",
		Long: `Fetch an object. A key with several siblings prints every one of them;
use "kvq resolve" to pick one.

Examples:
  kvq get users ann
  kvq get users ann -v
  kvq get users ann --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(s *session) error {
				sibs, err := s.client.Fetch(cmd.Context(), args[0], args[1])
				if err != nil {
					return operationError("fetch failed", err)
				}
				return s.out.Success(newFetchResult(sibs))
			})
		},
	}
}

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Data        string
	File        string
	ContentType string
	VClock      string
	Meta        []string
	Indexes     []string
	AutoIndexes []string
	Links       []string
	Fetch       bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <bucket> [key]",
		Short: "Store an object",
		Long: `Store an object. Without a key the store assigns one.

Without --vclock or --fetch the write carries no causality token; on a
bucket with allow_mult it becomes a new sibling.

Examples:
  kvq put users ann --data '{"name":"Ann","email":"ann@example.com"}'
  kvq put users ann --file ann.json --index team_bin=blue --auto-index email_bin
  kvq put users ann --data '{"name":"Ann"}' --fetch --link users/bob/friend
  kvq put logs --data 'plain text' --content-type text/plain`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 2 {
				key = args[1]
			}
			return runPut(cmd, opts, args[0], key)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "object payload")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the payload from a file (- for stdin)")
	cmd.Flags().StringVar(&opts.ContentType, "content-type", object.ContentTypeJSON, "payload content type")
	cmd.Flags().StringVar(&opts.VClock, "vclock", "", "causality token from a previous fetch")
	cmd.Flags().StringArrayVar(&opts.Meta, "meta", nil, "user metadata as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Indexes, "index", nil, "secondary index as name_type=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.AutoIndexes, "auto-index", nil, "index a top-level JSON field, as name_type (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Links, "link", nil, "link as bucket/key[/tag] (repeatable)")
	cmd.Flags().BoolVar(&opts.Fetch, "fetch", false, "fetch the current causality token before writing")
	cmd.MarkFlagsMutuallyExclusive("data", "file")
	cmd.MarkFlagsMutuallyExclusive("vclock", "fetch")

	return cmd
}

func runPut(cmd *cobra.Command, opts *PutOptions, bucket, key string) error {
	data, err := readPayload(cmd, opts.Data, opts.File)
	if err != nil {
		return err
	}

	v := object.New(bucket, key)
	v.SetData(data, opts.ContentType)
	v.VClock = opts.VClock
	if v.IsJSON() && !json.Valid(data) {
		return NewExitError(ExitCommandError, "payload is not valid JSON; set --content-type for other data")
	}
	if err := applyPutFlags(v, opts); err != nil {
		return err
	}

	return run(cmd, opts.RootOptions, func(s *session) error {
		if opts.Fetch {
			if key == "" {
				return NewExitError(ExitCommandError, "--fetch needs a key")
			}
			current, err := s.client.Fetch(cmd.Context(), bucket, key)
			if err != nil {
				return operationError("fetch failed", err)
			}
			if current.Conflicted() {
				return NewExitError(ExitConflict,
					fmt.Sprintf("%s/%s has %d siblings; resolve them first", bucket, key, current.Len()))
			}
			v.VClock = current.Version().VClock
		}

		stored, err := s.client.Store(cmd.Context(), v)
		if err != nil {
			return operationError("store failed", err)
		}
		return s.out.Success(StoreResult{newVersionView(stored)})
	})
}

func readPayload(cmd *cobra.Command, data, file string) ([]byte, error) {
	switch file {
	case "":
		return []byte(data), nil
	case "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
		return b, nil
	default:
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read payload file", err)
		}
		return b, nil
	}
}

func applyPutFlags(v *object.Version, opts *PutOptions) error {
	for _, kv := range opts.Meta {
		k, val, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("--meta %q: want key=value", kv))
		}
		v.SetMeta(k, val)
	}
	for _, kv := range opts.Indexes {
		wireName, val, ok := strings.Cut(kv, "=")
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("--index %q: want name_type=value", kv))
		}
		f, err := index.ParseField(wireName)
		if err != nil {
			return WrapExitError(ExitCommandError, "--index "+kv, err)
		}
		if err := v.Indexes.AddExplicit(f.Name, f.Type, val); err != nil {
			return WrapExitError(ExitCommandError, "--index "+kv, err)
		}
	}
	for _, wireName := range opts.AutoIndexes {
		f, err := index.ParseField(wireName)
		if err != nil {
			return WrapExitError(ExitCommandError, "--auto-index "+wireName, err)
		}
		if err := v.Indexes.AutoIndex(f.Name, f.Type); err != nil {
			return WrapExitError(ExitCommandError, "--auto-index "+wireName, err)
		}
	}
	for _, raw := range opts.Links {
		l, err := parseLink(raw)
		if err != nil {
			return err
		}
		v.AddLink(l)
	}
	return nil
}

// parseLink reads bucket/key[/tag].
func parseLink(raw string) (object.Link, error) {
	parts := strings.SplitN(raw, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return object.Link{}, NewExitError(ExitCommandError, fmt.Sprintf("--link %q: want bucket/key[/tag]", raw))
	}
	tag := ""
	if len(parts) == 3 {
		tag = parts[2]
	}
	return object.NewLink(parts[0], parts[1], tag), nil
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bucket> <key>",
		Short: "Delete an object",
		Long: `Delete an object. Deleting a missing key succeeds.

Example:
  kvq delete users ann`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(s *session) error {
				if err := s.client.Delete(cmd.Context(), args[0], args[1]); err != nil {
					return operationError("delete failed", err)
				}
				return s.out.Success(fmt.Sprintf("deleted %s/%s", args[0], args[1]))
			})
		},
	}
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <bucket> <key> <sibling>",
		Short: "Keep one sibling by storing it back",
		Long: `Fetch the siblings of a key and store the chosen one back with the
current causality token. Another writer may add a sibling in between;
check the result for a remaining conflict.

Example:
  kvq get docs readme          # lists [0] [1] ...
  kvq resolve docs readme 1`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[2])
			if err != nil {
				return WrapExitError(ExitCommandError, "sibling must be an index", err)
			}
			return run(cmd, rootOpts, func(s *session) error {
				sibs, err := s.client.Fetch(cmd.Context(), args[0], args[1])
				if err != nil {
					return operationError("fetch failed", err)
				}
				if !sibs.Exists() {
					return NewExitError(ExitFailure, fmt.Sprintf("not found: %s/%s", args[0], args[1]))
				}
				chosen, err := sibs.Resolve(i)
				if err != nil {
					return operationError("resolve failed", err)
				}
				stored, err := s.client.Store(cmd.Context(), chosen)
				if err != nil {
					return operationError("store failed", err)
				}
				return s.out.Success(StoreResult{newVersionView(stored)})
			})
		},
	}
}
