package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kvq/internal/wire"
)

// PropsOptions holds flags for the props command.
type PropsOptions struct {
	*RootOptions
	AllowMult string
	NVal      int
	Set       []string
}

// NewPropsCommand creates the props command.
func NewPropsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PropsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "props <bucket>",
		Short: "Show or change bucket properties",
		Long: `Show the properties of a bucket. With --allow-mult, --n-val or --set the
properties are updated first and then shown.

--set values are read as JSON when they parse, as strings otherwise.

Examples:
  kvq props users
  kvq props docs --allow-mult true
  kvq props docs --n-val 3 --set last_write_wins=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := opts.updates(cmd)
			if err != nil {
				return err
			}
			bucket := args[0]
			return run(cmd, opts.RootOptions, func(s *session) error {
				if len(updates) > 0 {
					if err := s.client.SetBucketProps(cmd.Context(), bucket, updates); err != nil {
						return operationError("set bucket props failed", err)
					}
					s.out.VerboseLog("updated %d properties of %s", len(updates), bucket)
				}
				props, err := s.client.GetBucketProps(cmd.Context(), bucket)
				if err != nil {
					return operationError("get bucket props failed", err)
				}
				return s.out.Success(PropsResult{Bucket: bucket, Props: props})
			})
		},
	}

	cmd.Flags().StringVar(&opts.AllowMult, "allow-mult", "", "keep concurrent writes as siblings (true|false)")
	cmd.Flags().IntVar(&opts.NVal, "n-val", 0, "replication factor")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "set a property as key=value (repeatable)")
	return cmd
}

func (o *PropsOptions) updates(cmd *cobra.Command) (map[string]any, error) {
	props := make(map[string]any)
	for _, kv := range o.Set {
		k, raw, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--set %q: want key=value", kv))
		}
		if v, err := wire.Decode([]byte(raw)); err == nil {
			props[k] = v
		} else {
			props[k] = raw
		}
	}
	if cmd.Flags().Changed("allow-mult") {
		allow, err := strconv.ParseBool(o.AllowMult)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "--allow-mult must be true or false", err)
		}
		props["allow_mult"] = allow
	}
	if cmd.Flags().Changed("n-val") {
		if o.NVal < 1 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--n-val must be positive, got %d", o.NVal))
		}
		props["n_val"] = o.NVal
	}
	return props, nil
}

// PropsResult is the output of props.
type PropsResult struct {
	Bucket string         `json:"bucket"`
	Props  map[string]any `json:"props"`
}

// WriteText prints one property per line, sorted by name.
func (r PropsResult) WriteText(w io.Writer, verbose bool) error {
	for _, k := range sortedMapKeys(r.Props) {
		v, err := json.Marshal(r.Props[k])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", k, v)
	}
	return nil
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(s *session) error {
				if err := s.client.Ping(cmd.Context()); err != nil {
					return operationError("ping failed", err)
				}
				return s.out.Success("OK")
			})
		},
	}
}
