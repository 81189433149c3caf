package cli

import (
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/roach88/kvq/internal/tracestore"
)

// NewTraceCommand creates the trace command and its subcommands.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded HTTP exchanges",
		Long: `Every command records its HTTP exchanges to the trace database when
trace_db is configured. Recorded sessions can be listed, shown, and
answered again with --replay.

Examples:
  KVQ_TRACE_DB=kvq.db kvq put users ann --data '{"name":"Ann"}'
  KVQ_TRACE_DB=kvq.db kvq trace list
  KVQ_TRACE_DB=kvq.db kvq trace show <session>
  KVQ_TRACE_DB=kvq.db kvq get users ann --replay <session>`,
	}
	cmd.AddCommand(newTraceListCommand(rootOpts))
	cmd.AddCommand(newTraceShowCommand(rootOpts))
	return cmd
}

func newTraceListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTraceStore(rootOpts, func(st *tracestore.Store) error {
				sessions, err := st.Sessions(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list sessions", err)
				}
				res := SessionList{Sessions: []SessionView{}}
				for _, s := range sessions {
					res.Sessions = append(res.Sessions, newSessionView(s))
				}
				return rootOpts.formatter(cmd).Success(res)
			})
		},
	}
}

func newTraceShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Show the exchanges of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTraceStore(rootOpts, func(st *tracestore.Store) error {
				sess, err := st.ReadSession(cmd.Context(), args[0])
				if errors.Is(err, tracestore.ErrSessionNotFound) {
					return WrapExitError(ExitCommandError, "unknown session", err)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read session", err)
				}
				exchanges, err := st.ReadExchanges(cmd.Context(), sess.ID)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read exchanges", err)
				}
				res := SessionDetail{SessionView: newSessionView(sess), Exchanges: []ExchangeView{}}
				for _, ex := range exchanges {
					res.Exchanges = append(res.Exchanges, newExchangeView(ex))
				}
				return rootOpts.formatter(cmd).Success(res)
			})
		},
	}
}

func withTraceStore(opts *RootOptions, fn func(st *tracestore.Store) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cfg.TraceDB == "" {
		return NewExitError(ExitCommandError, "no trace database; set trace_db in config or KVQ_TRACE_DB")
	}
	st, err := tracestore.Open(cfg.TraceDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()
	return fn(st)
}

// SessionView is the printable form of a trace session.
type SessionView struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	BaseURL   string `json:"base_url"`
	StartedAt string `json:"started_at"`
}

func newSessionView(s tracestore.Session) SessionView {
	return SessionView{
		ID:        s.ID,
		ClientID:  s.ClientID,
		BaseURL:   s.BaseURL,
		StartedAt: s.StartedAt.UTC().Format(time.RFC3339),
	}
}

// SessionList is the output of trace list.
type SessionList struct {
	Sessions []SessionView `json:"sessions"`
}

// WriteText prints one session per line.
func (l SessionList) WriteText(w io.Writer, verbose bool) error {
	if len(l.Sessions) == 0 {
		_, err := fmt.Fprintln(w, "no sessions recorded")
		return err
	}
	for _, s := range l.Sessions {
		fmt.Fprintf(w, "%s  %s  %s  %s\n", s.ID, s.StartedAt, s.ClientID, s.BaseURL)
	}
	return nil
}

// ExchangeView is the printable form of one recorded exchange.
type ExchangeView struct {
	Seq          int64  `json:"seq"`
	Op           string `json:"op"`
	Method       string `json:"method"`
	Path         string `json:"path"`
	Status       int    `json:"status,omitempty"`
	Error        string `json:"error,omitempty"`
	DurationUS   int64  `json:"duration_us"`
	RequestHash  string `json:"request_hash"`
	RequestBody  string `json:"request_body,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
}

func newExchangeView(ex tracestore.Exchange) ExchangeView {
	return ExchangeView{
		Seq:          ex.Seq,
		Op:           ex.Op,
		Method:       ex.Method,
		Path:         ex.Path,
		Status:       ex.Status,
		Error:        ex.Error,
		DurationUS:   ex.Duration.Microseconds(),
		RequestHash:  ex.RequestHash,
		RequestBody:  printableBody(ex.RequestBody),
		ResponseBody: printableBody(ex.ResponseBody),
	}
}

func printableBody(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if !utf8.Valid(b) {
		return fmt.Sprintf("<%d bytes>", len(b))
	}
	return string(b)
}

// SessionDetail is the output of trace show.
type SessionDetail struct {
	SessionView
	Exchanges []ExchangeView `json:"exchanges"`
}

// WriteText prints one exchange per line; bodies only when verbose.
func (d SessionDetail) WriteText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "session %s (%s, %s)\n", d.ID, d.ClientID, d.BaseURL)
	for _, ex := range d.Exchanges {
		outcome := fmt.Sprint(ex.Status)
		if ex.Error != "" {
			outcome = "error: " + ex.Error
		}
		fmt.Fprintf(w, "%3d %-8s %-6s %s -> %s (%dus)\n", ex.Seq, ex.Op, ex.Method, ex.Path, outcome, ex.DurationUS)
		if verbose {
			if ex.RequestBody != "" {
				fmt.Fprintf(w, "    > %s\n", ex.RequestBody)
			}
			if ex.ResponseBody != "" {
				fmt.Fprintf(w, "    < %s\n", ex.ResponseBody)
			}
		}
	}
	return nil
}
