package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"auto_news_interviewer/generator"
)

const restartCommand = "/restart"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run an interview in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()
		return runChat(cmd.Context(), a.agent, cmd.InOrStdin(), cmd.OutOrStdout(), newMarkdownRenderer())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// newMarkdownRenderer falls back to plain text when the terminal style cannot be built.
func newMarkdownRenderer() func(string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(md string) string { return md }
	}
	return func(md string) string {
		out, err := r.Render(md)
		if err != nil {
			return md
		}
		return out
	}
}

// runChat reads one statement per line until EOF or the article is written.
func runChat(ctx context.Context, agent *generator.Agent, in io.Reader, out io.Writer, render func(string) string) error {
	sess, err := agent.NewSession(ctx, uuid.NewString())
	if err != nil {
		return err
	}
	printed := printTurns(out, sess.Transcript(), 0)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()

		if strings.TrimSpace(line) == restartCommand {
			if err := agent.Restart(ctx, sess); err != nil {
				return err
			}
			fmt.Fprintln(out, "--- neu gestartet ---")
			printed = printTurns(out, sess.Transcript(), 0)
			continue
		}

		outcome, err := agent.Submit(ctx, sess, line)
		if err != nil {
			fmt.Fprintf(out, "Fehler: %v\n", err)
			continue
		}
		if outcome.ShowArticle && outcome.Article != nil {
			fmt.Fprint(out, render(outcome.Article.Text))
			if outcome.Article.Path != "" {
				fmt.Fprintf(out, "Gespeichert unter %s\n", outcome.Article.Path)
			}
			return nil
		}
		printed = printTurns(out, outcome.Transcript, printed)
	}
}

// printTurns prints the assistant turns after the first `from` and returns the new count.
func printTurns(out io.Writer, turns []generator.Turn, from int) int {
	for _, t := range turns[from:] {
		if t.Role() == generator.RoleAssistant {
			fmt.Fprintln(out, t.Content())
		}
	}
	return len(turns)
}
