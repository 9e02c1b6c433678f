// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command handler for rigchat.
//
// Examples:
//   rigchat chat                          Start interactive chat
//   rigchat chat --session 2              Resume the second listed session
//   rigchat chat --metrics-addr :9464     Expose Prometheus metrics
//
// Interactive Commands (during chat):
//   /help                 Show available commands
//   /new [name]           Start a new session
//   /sessions             List sessions
//   /switch <ref>         Switch session (id, position or id prefix)
//   /rename <name>        Rename the current session
//   /clear                Clear the current session
//   /delete <ref>         Delete a session
//   /history              Show the current session's messages
//   /model [id]           Show or switch the selected model
//   /models               List configured models
//   /cost                 Show reconciled costs
//   /export [md|json]     Export the current session
//   /quit                 Exit chat
//   Ctrl+C                Cancel the current response
//   Ctrl+D                Exit chat

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
	cmd.Flags().StringP("session", "s", "", "session to resume (id, position or id prefix)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if ref, _ := cmd.Flags().GetString("session"); ref != "" {
		id, err := resolveSession(app.Store, ref)
		if err != nil {
			return err
		}
		app.Store.SetCurrentSessionID(id)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		if err := config.Watch(ctx, app.Live, app.Log, 0, nil); err != nil {
			app.Log.Debug().Err(err).Msg("CONFIG_WATCH_DISABLED")
		}
	}()

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		srv := serveMetrics(app, addr)
		defer srv.Close()
	}

	in := cmd.InOrStdin()
	var reader lineReader
	if IsTerminal(in) {
		reader = newLinerReader()
	} else {
		reader = newScanReader(in, cmd.OutOrStdout())
	}
	defer reader.Close()

	r := &repl{
		app:     app,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		reader:  reader,
		notices: make(chan string, 16),
		width:   GetTerminalWidth(cmd.OutOrStdout()),
	}
	return r.run(ctx)
}

// serveMetrics exposes the app registry over HTTP until closed.
func serveMetrics(app *App, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Log.Warn().Err(err).Str("addr", addr).Msg("METRICS_SERVER_FAILED")
		}
	}()
	return srv
}

// =============================================================================
// INPUT
// =============================================================================

// lineReader abstracts interactive and piped input.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// linerReader provides input history and line editing.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &linerReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close persists history with secure permissions and restores the terminal.
func (r *linerReader) Close() error {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	return r.line.Close()
}

// scanReader reads lines from a pipe.
type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newScanReader(in io.Reader, out io.Writer) *scanReader {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), maxPromptBytes)
	return &scanReader{scanner: s, out: out}
}

func (r *scanReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scanReader) Close() error { return nil }

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	app     *App
	out     io.Writer
	errOut  io.Writer
	reader  lineReader
	notices chan string
	width   int
}

func (r *repl) run(ctx context.Context) error {
	r.printWelcome()

	for {
		r.drainNotices()

		line, err := r.reader.Prompt(r.prompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.handleCommand(line); quit {
				return nil
			}
			continue
		}
		r.send(ctx, line)
	}
}

func (r *repl) prompt() string {
	sess := r.app.Store.CurrentSession()
	return PromptStyle.Render(sess.Name+" >") + " "
}

func (r *repl) printWelcome() {
	cfg := r.app.Live.Config()
	fmt.Fprintln(r.out, TitleStyle.Render("rigchat "+Version))
	fmt.Fprintln(r.out, DimStyle.Render("model: "+cfg.Provider.SelectedModel+"  |  /help for commands, Ctrl+D to exit"))
	if !r.app.Live.Settings().IsConfigured() {
		fmt.Fprintln(r.out, WarningStyle.Render("No OpenRouter API key set. Use: rigchat config set provider.api_key <key>"))
	}
	fmt.Fprintln(r.out)
}

// send runs one exchange; Ctrl+C cancels it without leaving the REPL.
func (r *repl) send(ctx context.Context, prompt string) {
	reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	h := &consoleHandler{
		out:         r.out,
		errOut:      r.errOut,
		label:       "Assistant:",
		width:       r.width,
		printErrors: true,
		notices:     r.notices,
	}
	r.app.Send(reqCtx, r.app.Store.CurrentSessionID(), prompt, r.app.Options(), h)
}

func (r *repl) drainNotices() {
	for {
		select {
		case n := <-r.notices:
			fmt.Fprintln(r.out, n)
		default:
			return
		}
	}
}

// handleCommand executes a slash command and reports whether to quit.
func (r *repl) handleCommand(line string) bool {
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	store := r.app.Store

	switch name {
	case "/quit", "/q", "/exit":
		return true

	case "/help", "/h":
		r.printHelp()

	case "/new":
		sess := store.CreateSession(arg)
		r.info("Started %s", sess.Name)

	case "/sessions", "/ls":
		printSessionTable(r.out, store.ListSessions(), store.CurrentSessionID())

	case "/switch", "/s":
		id, err := resolveSession(store, arg)
		if err != nil || arg == "" {
			r.fail("usage: /switch <id|position|prefix>")
			break
		}
		store.SetCurrentSessionID(id)
		sess, _ := store.GetSession(id)
		r.info("Switched to %s", sess.Name)

	case "/rename":
		if arg == "" {
			r.fail("usage: /rename <name>")
			break
		}
		store.RenameSession(store.CurrentSessionID(), arg)

	case "/clear", "/c":
		store.ClearSession(store.CurrentSessionID())
		r.info("Session cleared")

	case "/delete":
		id, err := resolveSession(store, arg)
		if err != nil || arg == "" {
			r.fail("usage: /delete <id|position|prefix>")
			break
		}
		if !store.DeleteSession(id) {
			r.fail("The default session cannot be deleted")
			break
		}
		r.app.Costs.Forget(id)
		r.info("Deleted session")

	case "/history":
		printHistory(r.out, store.CurrentSession(), false, r.width)

	case "/model", "/m":
		if arg == "" {
			fmt.Fprintln(r.out, r.app.Live.Settings().SelectedModel)
			break
		}
		if err := r.app.Live.Update(func(c *config.Config) error {
			c.Provider.SelectedModel = arg
			return nil
		}); err != nil {
			r.fail("%v", err)
			break
		}
		r.info("Model set to %s", arg)

	case "/models":
		printModelList(r.out, r.app.Live.Config())

	case "/cost":
		r.printCost()

	case "/export":
		format := arg
		if format == "" {
			format = "markdown"
		}
		exporter, err := export.ForFormat(format, nil)
		if err != nil {
			r.fail("%v", err)
			break
		}
		path, err := export.ToFile(store.CurrentSession(), exporter, nil)
		if err != nil {
			r.fail("%v", err)
			break
		}
		r.info("Exported to %s", path)

	default:
		r.fail("Unknown command: %s (try /help)", fields[0])
	}
	return false
}

func (r *repl) printCost() {
	sess := r.app.Store.CurrentSession()
	total, priced := sess.TotalCost()
	fmt.Fprintf(r.out, "%s%s across %d responses\n", RenderLabel("Session"), model.FormatDollars(total), priced)
	if sc, ok := r.app.Costs.Session(sess.ID); ok && sc.Missing > 0 {
		fmt.Fprintf(r.out, "%s%d responses\n", RenderLabel("Unresolved"), sc.Missing)
	}
	fmt.Fprintf(r.out, "%s%s\n", RenderLabel("This run"), model.FormatDollars(r.app.Costs.Total()))
}

func (r *repl) printHelp() {
	cmds := [][2]string{
		{"/new [name]", "Start a new session"},
		{"/sessions", "List sessions"},
		{"/switch <ref>", "Switch session (id, position or id prefix)"},
		{"/rename <name>", "Rename the current session"},
		{"/clear", "Clear the current session"},
		{"/delete <ref>", "Delete a session"},
		{"/history", "Show the current session"},
		{"/model [id]", "Show or switch the model"},
		{"/models", "List configured models"},
		{"/cost", "Show reconciled costs"},
		{"/export [md|json]", "Export the current session"},
		{"/quit", "Exit chat"},
	}
	for _, c := range cmds {
		fmt.Fprintf(r.out, "  %s %s\n", PadRight(c[0], 20), DimStyle.Render(c[1]))
	}
	fmt.Fprintln(r.out, DimStyle.Render("  Reference files or folders with @path to attach them as context."))
}

func (r *repl) info(format string, args ...any) {
	fmt.Fprintln(r.out, SuccessStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *repl) fail(format string, args ...any) {
	fmt.Fprintln(r.errOut, ErrorStyle.Render(fmt.Sprintf(format, args...)))
}
