package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/ola-suite/internal/chat"
	"github.com/suPer8Hu/ola-suite/internal/chatclient"
)

func newChatCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Run the interactive chat (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}
}

func newSendCmd(opts *cliOptions) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one message and print the answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" {
				return fmt.Errorf("no message provided")
			}
			return withApp(cmd, opts, func(a *app) error {
				out := cmd.OutOrStdout()
				if !stream {
					answer, err := a.client.SendMessage(cmd.Context(), message)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, answer)
					return nil
				}
				svc, err := a.chatService(opts.transcript)
				if err != nil {
					return err
				}
				return ask(cmd.Context(), out, svc, message)
			})
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the answer with progress")
	return cmd
}

func runChat(cmd *cobra.Command, opts *cliOptions) error {
	return withApp(cmd, opts, func(a *app) error {
		svc, err := a.chatService(opts.transcript)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "> ",
			HistoryFile:     historyFile(),
			InterruptPrompt: "^C",
			EOFPrompt:       "bye",
			Stdout:          out,
		})
		if err != nil {
			return err
		}
		defer rl.Close()

		printBanner(out, a)
		for {
			line, err := rl.Readline()
			if isReadTermination(err) {
				return nil
			}
			if err != nil {
				return err
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if strings.HasPrefix(input, "/") {
				if handleCommand(cmd.Context(), out, a, svc, input) {
					return nil
				}
				continue
			}
			if err := ask(cmd.Context(), out, svc, input); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			}
		}
	})
}

func isReadTermination(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt)
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return ""
	}
	dir = filepath.Join(dir, "ola")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}

func printBanner(w io.Writer, a *app) {
	fmt.Fprintf(w, "\nOLA Suite chat\n")
	fmt.Fprintf(w, "Backend: %s\n", a.cfg.APIBaseURL)
	if sid := a.client.SessionID(); sid != "" {
		fmt.Fprintf(w, "Session: %s\n", sid)
	}
	fmt.Fprintf(w, "Commands: /new /session /history /transcript /help /quit\n")
	fmt.Fprintf(w, "Ctrl-C while answering stops the answer.\n\n")
}

func handleCommand(ctx context.Context, w io.Writer, a *app, svc *chat.Service, input string) (quit bool) {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Fprintln(w, "bye")
		return true
	case "/new":
		sid, err := svc.NewChat(ctx)
		if err != nil {
			fmt.Fprintf(w, "new chat failed: %v\n", err)
			return false
		}
		fmt.Fprintf(w, "new conversation: %s\n", sid)
	case "/session":
		sid := a.client.SessionID()
		if sid == "" {
			sid = "(none)"
		}
		fmt.Fprintf(w, "session: %s\n", sid)
	case "/history":
		printHistory(w, a.client.History(ctx, limitArg(fields, 20)))
	case "/transcript":
		msgs, err := svc.Transcript(ctx, limitArg(fields, 50))
		if err != nil {
			fmt.Fprintf(w, "transcript failed: %v\n", err)
			return false
		}
		for _, m := range msgs {
			fmt.Fprintf(w, "[%s] %s\n", m.Role, m.Content)
		}
	case "/help":
		fmt.Fprintln(w, "/new /session /history [n] /transcript [n] /help /quit")
	default:
		fmt.Fprintf(w, "unknown command: %s\n", fields[0])
	}
	return false
}

func limitArg(fields []string, def int) int {
	if len(fields) < 2 {
		return def
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func printHistory(w io.Writer, msgs []chatclient.ChatMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "(no history)")
		return
	}
	for _, m := range msgs {
		if m.Timestamp != "" {
			fmt.Fprintf(w, "%s [%s] %s\n", m.Timestamp, m.Role, m.Content)
			continue
		}
		fmt.Fprintf(w, "[%s] %s\n", m.Role, m.Content)
	}
}

// ask streams one answer to w. Ctrl-C cancels the answer, not the program.
func ask(parent context.Context, w io.Writer, svc *chat.Service, message string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	r := &renderer{w: w}
	final, err := svc.Ask(ctx, message, r.update)
	r.finish(final)
	if final.Status == chat.StatusAborted {
		return nil
	}
	return err
}

// renderer prints assistant snapshots incrementally. Appends print only the
// new tail; a replaced answer is reprinted on a fresh line.
type renderer struct {
	mu       sync.Mutex
	w        io.Writer
	printed  string
	progress string
}

func (r *renderer) update(m chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.render(m)
}

func (r *renderer) render(m chat.Message) {
	if m.Progress != "" && m.Progress != r.progress {
		r.progress = m.Progress
		if r.printed == "" {
			fmt.Fprintf(r.w, "... %s\n", m.Progress)
		}
	}
	switch {
	case m.Content == r.printed:
	case strings.HasPrefix(m.Content, r.printed):
		fmt.Fprint(r.w, m.Content[len(r.printed):])
	default:
		if r.printed != "" {
			fmt.Fprintln(r.w)
		}
		fmt.Fprint(r.w, m.Content)
	}
	r.printed = m.Content
}

func (r *renderer) finish(m chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.render(m)
	if r.printed != "" {
		fmt.Fprintln(r.w)
	}
	if m.Status == chat.StatusAborted {
		fmt.Fprintln(r.w, "[stopped]")
	}
	for _, d := range m.Disclosures {
		name := d.ReportName
		if name == "" {
			name = d.ReceiptNo
		}
		if d.CorpName != "" {
			name = d.CorpName + " " + name
		}
		fmt.Fprintf(r.w, "  - %s: %s\n", name, d.URL())
	}
}
