package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sizeview/sizeview/internal/protocol"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// Intents is the part of a session the console drives.
type Intents interface {
	Navigate(path protocol.Path) error
	Open(name string) error
	Up() error
	RequestDelete(name string) error
	Confirm(path protocol.Path) error
	Cancel(path protocol.Path) error
	Reveal(name string) error
	More() error
}

const help = `commands:
  ls               print the current directory
  cd <name>        open a child directory (cd .. goes up, cd /a/b jumps)
  more             show the next page of entries
  rm <name>        ask to delete an entry
  yes [name]       confirm a delete
  no [name]        cancel a delete
  reveal <name>    show an entry in the server's file manager
  quit`

// Execute runs one command line against s.
func (c *Console) Execute(s Intents, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return nil
	case "ls":
		c.Print()
		return nil
	case "cd":
		switch {
		case arg == "" || arg == "/":
			return s.Navigate(protocol.Root())
		case arg == "..":
			return s.Up()
		case strings.HasPrefix(arg, "/"):
			return s.Navigate(protocol.ParsePath(arg))
		default:
			return s.Open(arg)
		}
	case "more":
		return s.More()
	case "rm":
		if arg == "" {
			return fmt.Errorf("usage: rm <name>")
		}
		return s.RequestDelete(arg)
	case "yes", "no":
		path, err := c.confirming(arg)
		if err != nil {
			return err
		}
		if cmd == "yes" {
			return s.Confirm(path)
		}
		return s.Cancel(path)
	case "reveal":
		if arg == "" {
			return fmt.Errorf("usage: reveal <name>")
		}
		return s.Reveal(arg)
	case "help", "?":
		fmt.Fprintln(c.out, help)
		return nil
	case "quit", "exit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
}

// confirming resolves the delete a yes or no refers to. Without a name the
// answer applies to the only delete awaiting confirmation.
func (c *Console) confirming(name string) (protocol.Path, error) {
	pending := c.Frame().Confirming()
	if name == "" {
		switch len(pending) {
		case 0:
			return nil, errors.New("nothing awaiting confirmation")
		case 1:
			return pending[0].Path, nil
		default:
			return nil, errors.New("several deletes await confirmation, name one")
		}
	}
	for _, m := range pending {
		if m.Entry.Name() == name || m.Key() == strings.Trim(name, "/") {
			return m.Path, nil
		}
	}
	return nil, fmt.Errorf("no delete of %q awaiting confirmation", name)
}

// ReadCommands executes lines from in until EOF, quit, or ctx is done.
// Command errors are printed and do not stop the loop.
func (c *Console) ReadCommands(ctx context.Context, in io.Reader, s Intents) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			err := c.Execute(s, line)
			switch {
			case errors.Is(err, ErrQuit):
				return nil
			case err != nil:
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}
