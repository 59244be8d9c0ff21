package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bluetime/go/internal/config"
	"github.com/mcdev12/bluetime/go/internal/timer"
)

// ErrUnknownCommand is returned for console input that is not a command.
var ErrUnknownCommand = errors.New("unknown command")

const consoleHelp = `commands:
  start | pause | toggle   press the start/pause button
  cancel                   press the cancel button
  duration <d>             select a duration (e.g. 90, 90s, 5m)
  appear                   simulate the screen becoming visible
  state                    print the current state
  help                     print this help
`

// Console drives a Controller from line-oriented text input, standing in
// for the buttons of a real screen.
type Console struct {
	controller *Controller
	out        io.Writer
}

func NewConsole(controller *Controller, out io.Writer) *Console {
	return &Console{controller: controller, out: out}
}

// Run executes commands read from in until EOF or ctx is done. Command
// errors are reported to out and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
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
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read console input: %w", err)
					}
				default:
				}
				return nil
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Execute runs a single command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	log.Debug().Str("command", fields[0]).Msg("console command")

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "start", "pause":
		running := c.controller.Snapshot().Status == timer.StatusRunning
		if (cmd == "start") == running {
			return fmt.Errorf("%s while %s: %w", cmd, c.controller.Snapshot().Status, timer.ErrActionNotAllowed)
		}
		_, err := c.controller.StartStopPressed(ctx)
		return err

	case "toggle":
		_, err := c.controller.StartStopPressed(ctx)
		return err

	case "cancel":
		_, err := c.controller.CancelPressed(ctx)
		return err

	case "duration":
		if len(fields) != 2 {
			return fmt.Errorf("usage: duration <d>")
		}
		d, err := config.ParseDuration(fields[1])
		if err != nil {
			return err
		}
		if !c.controller.SelectDuration(ctx, d) {
			fmt.Fprintln(c.out, "duration can only be changed while idle")
		}
		return nil

	case "appear":
		c.controller.DidAppear(ctx)
		return nil

	case "state":
		c.printState()
		return nil

	case "help":
		fmt.Fprint(c.out, consoleHelp)
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
}

func (c *Console) printState() {
	s := c.controller.Snapshot()
	v := timer.ViewOf(s)
	fmt.Fprintf(c.out, "%s %s [%s] cancel=%t\n",
		s.Status, FormatRemaining(s.Remaining), v.StartPauseTitle, v.CancelEnabled)
}
