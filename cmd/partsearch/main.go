package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkiryanov/partsearch/internal/apiclient"
	"github.com/nkiryanov/partsearch/internal/apperrors"
)

const usage = `Usage: partsearch [flags] <command> [command flags]

Commands:
  login           sign in with --email and --password
  register        create an account
  logout          end the session
  whoami          show the signed in user
  profile         update --first-name / --last-name
  password        change password (--current, --new)
  reset-password  request a reset (--email) or confirm it (--token, --new)
  search          find a part (--plate, --part, optional --category)
  history         list recent searches (--limit)
  result <id>     show items of one stored search

The credential is kept in an encrypted file by default; that needs SECRET_KEY
(or --secret-key). Use --token-store=memory for a one-off run.
`

func main() {
	// Initialize context that cancelled on SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, userMessage(err))
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, out io.Writer) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env. Err: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return err
	}
	rest, err := c.ParseFlags(args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		_, _ = io.WriteString(out, usage)
		return errors.New("command required")
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		_, _ = io.WriteString(out, usage)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	app, err := NewApp(ctx, c, cmd.path)
	if err != nil {
		return err
	}
	defer app.Close() // nolint:errcheck

	return cmd.run(ctx, app, rest[1:], out)
}

// messageError carries the text shown to the user instead of the error chain
type messageError struct {
	msg string
	err error
}

func (e *messageError) Error() string { return e.msg }
func (e *messageError) Unwrap() error { return e.err }

func userMessage(err error) string {
	var me *messageError
	switch {
	case errors.As(err, &me):
		return me.msg
	case errors.Is(err, apperrors.ErrSessionExpired):
		return "Session expired. Please log in again."
	default:
		return apiclient.ErrorMessage(err)
	}
}
