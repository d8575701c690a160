package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/bishma/internal/conversation"
	"github.com/tOgg1/bishma/internal/tui"
)

func newChatCmd(a *app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk through your tasks",
		Long:  "Start or resume a conversation. Runs full screen on a terminal and reads one message per line otherwise.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.resolveSession(true)
			if err != nil {
				return err
			}
			rt, err := a.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			orch, err := rt.Open(ctx, id)
			if err != nil {
				return err
			}
			defer orch.Session().Close()
			if err := a.rememberSession(orch.Session().ID()); err != nil {
				return err
			}

			if !plain && a.isTerminal() {
				return tui.Run(ctx, orch, rt.publisher, tui.Config{
					Backend:   rt.gateway.Name(),
					AltScreen: true,
				})
			}
			return lineChat(ctx, orch, a.in, a.out)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "read lines from stdin even on a terminal")
	return cmd
}

// lineChat runs one turn per input line until EOF, /quit or cancellation.
func lineChat(ctx context.Context, orch *conversation.Orchestrator, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintf(out, "session %s\n", orch.Session().ID())
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		}

		result, err := orch.HandleTurn(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, result.Reply)
		for _, task := range result.Completed {
			fmt.Fprintf(out, "  scored: %s\n", tui.Summary(task))
		}
		if result.Focus != nil {
			fmt.Fprintf(out, "  focus: %s\n", tui.Summary(*result.Focus))
		}
	}
}
