package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fermata-dev/fermata/pkg/mailbox"
)

// NewMailbox creates a signal mailbox backend. The async backend serves
// production workers; the console backend prompts an operator on stdin for
// interactive sessions.
func NewMailbox(backend string, logger *slog.Logger) (mailbox.Mailbox, error) {
	switch backend {
	case "async", "":
		return mailbox.NewAsyncMailbox(logger), nil
	case "console":
		return mailbox.NewConsoleMailbox(logger, os.Stdin, os.Stdout), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox backend: %s", backend)
	}
}
