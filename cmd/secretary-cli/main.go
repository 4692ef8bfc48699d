package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	memstore "github.com/PabloGalante/secretary-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/secretary-agent/internal/app/conversation"
	"github.com/PabloGalante/secretary-agent/internal/config"
	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
	"github.com/PabloGalante/secretary-agent/internal/wiring"
)

const localUser domain.UserID = "local-user"

const helpText = `
=================================== HELP ===================================

AVAILABLE COMMANDS:

exit     - Exit the application
help     - Show this help message
clear    - Clear conversation history
tokens   - Show current conversation token estimate

EXAMPLE PROMPTS:

"Draft an email about tomorrow's meeting"
"Create a task list for my project"

============================================================================
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	// Keep the terminal for the conversation; only warnings and errors are logged.
	observability.Configure(os.Stderr, "warn")

	ctx := context.Background()
	client, err := wiring.CompletionClient(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "completion client:", err)
		os.Exit(1)
	}

	opts, closeOpts, err := wiring.ServiceOptions(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "options:", err)
		os.Exit(1)
	}
	defer closeOpts()

	store := memstore.NewStore()
	r := &repl{
		svc:     conversation.NewService(client, store, store, opts),
		counter: conversation.NewTokenCounter(),
		out:     os.Stdout,
	}
	if err := r.run(ctx, os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type repl struct {
	svc     *conversation.Service
	counter conversation.TokenCounter
	out     io.Writer

	convID domain.ConversationID
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, "Welcome to the AI Secretary CLI!")
	fmt.Fprint(r.out, "Type your message and press Enter. Type \"exit\" to quit.\n\n")

	if err := r.newConversation(ctx); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(r.out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		line := scanner.Text()
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "exit":
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		case "help":
			fmt.Fprint(r.out, helpText)
		case "clear":
			if err := r.newConversation(ctx); err != nil {
				return err
			}
			fmt.Fprint(r.out, "\nConversation history cleared\n\n")
		case "tokens":
			if err := r.printTokens(ctx); err != nil {
				return err
			}
		case "":
		default:
			r.send(ctx, line)
		}
	}
}

func (r *repl) newConversation(ctx context.Context) error {
	conv, err := r.svc.CreateConversation(ctx, conversation.CreateConversationInput{UserID: localUser})
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	r.convID = conv.ID
	return nil
}

func (r *repl) printTokens(ctx context.Context) error {
	msgs, err := r.svc.ListMessages(ctx, r.convID, localUser)
	if err != nil {
		return err
	}
	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, domain.Turn{Role: m.Role, Content: m.Content})
	}
	fmt.Fprintf(r.out, "\nCurrent conversation: ~%d tokens (estimated)\n\n", conversation.CountTurns(r.counter, turns))
	return nil
}

// send runs one exchange. Failures are reported and the loop goes on; the
// failed message is not kept, since nothing is persisted without a reply.
func (r *repl) send(ctx context.Context, text string) {
	out, err := r.svc.SendMessage(ctx, conversation.SendMessageInput{
		ConversationID: r.convID,
		UserID:         localUser,
		Content:        text,
	})
	if err != nil {
		fmt.Fprintln(r.out, describeError(err))
		return
	}

	fmt.Fprintf(r.out, "Secretary: %s\n", out.AssistantMessage.Content)
	fmt.Fprintln(r.out, formatUsage(out.Usage))
	fmt.Fprint(r.out, "==========================================\n\n")
}

func formatUsage(u domain.Usage) string {
	return fmt.Sprintf("\n[[ Tokens: %d (in: %d, out: %d)  |  Cost: $%.6f ]]\n",
		u.TotalTokens, u.InputTokens, u.OutputTokens, u.CostUSD)
}

func describeError(err error) string {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case domain.ProviderAuth:
			return "\nAuthentication Error: invalid API key\nPlease check your .env file\n"
		case domain.ProviderRateLimited:
			return "\nRate Limit: too many requests\nPlease wait a moment before trying again\n"
		case domain.ProviderUnavailable:
			return "\nServer Error: the completion provider is having issues\nPlease try again in a moment\n"
		}
	}
	return fmt.Sprintf("\nError: %v\n", err)
}
