package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Presence/internal/client"
	"github.com/dkeye/Presence/internal/client/eventbus"
	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/domain"
)

var (
	ErrUsage = errors.New("usage")
	ErrQuit  = errors.New("quit")
)

const help = `commands:
  send <userId> <meetLink> [message...]  invite a user
  accept <collaborationId>               accept an incoming request
  decline <collaborationId>              decline an incoming request
  incoming                               list incoming requests
  online                                 list online users
  refresh                                re-request the online list
  list                                   list notifications
  dismiss <notificationId>               dismiss a notification
  quit`

type command struct {
	name string
	args []string
	rest string
}

// parseCommand splits one input line. rest keeps the free text after the
// fixed arguments of send.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, ErrUsage
	}
	cmd := command{name: strings.ToLower(fields[0]), args: fields[1:]}
	switch cmd.name {
	case "send":
		if len(cmd.args) < 2 {
			return cmd, fmt.Errorf("%w: send <userId> <meetLink> [message...]", ErrUsage)
		}
		cmd.rest = strings.Join(cmd.args[2:], " ")
		cmd.args = cmd.args[:2]
	case "accept", "decline", "dismiss":
		if len(cmd.args) != 1 {
			return cmd, fmt.Errorf("%w: %s <id>", ErrUsage, cmd.name)
		}
	case "incoming", "online", "refresh", "list", "help":
	case "quit", "exit":
		return cmd, ErrQuit
	default:
		return cmd, fmt.Errorf("%w: unknown command %q", ErrUsage, cmd.name)
	}
	return cmd, nil
}

type App struct {
	c   *client.Client
	in  *bufio.Reader
	out io.Writer
}

func (a *App) exec(cmd command) {
	switch cmd.name {
	case "send":
		a.c.SendMeetingRequest(domain.UserID(cmd.args[0]), cmd.args[1], cmd.rest)
	case "accept":
		a.c.Accept(domain.CollaborationID(cmd.args[0]))
	case "decline":
		a.c.Decline(domain.CollaborationID(cmd.args[0]))
	case "incoming":
		reqs := a.c.Incoming()
		if len(reqs) == 0 {
			fmt.Fprintln(a.out, "no incoming requests")
		}
		for _, r := range reqs {
			fmt.Fprintf(a.out, "%s  from %s  %s  %s\n", r.CollaborationID, r.SenderName, r.MeetLink, r.Message)
		}
	case "online":
		a.printOnline(a.c.Online())
	case "refresh":
		a.c.RefreshPresence()
	case "list":
		notes := a.c.Sink().List()
		if len(notes) == 0 {
			fmt.Fprintln(a.out, "no notifications")
		}
		for _, n := range notes {
			fmt.Fprintf(a.out, "%s  [%s] %s\n", n.ID, n.Kind, n.Text)
		}
	case "dismiss":
		if !a.c.Sink().Dismiss(cmd.args[0]) {
			fmt.Fprintf(a.out, "no notification %s\n", cmd.args[0])
		}
	case "help":
		fmt.Fprintln(a.out, help)
	}
}

func (a *App) printOnline(peers []domain.PeerPresence) {
	if len(peers) == 0 {
		fmt.Fprintln(a.out, "nobody else is online")
		return
	}
	for _, p := range peers {
		fmt.Fprintf(a.out, "  %s  %s\n", p.ID, p.DisplayName())
	}
}

// Run reads commands until stdin closes, quit, or ctx ends.
func (a *App) Run(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			line, err := a.in.ReadString('\n')
			if strings.TrimSpace(line) != "" {
				select {
				case lines <- line:
				case <-done:
					return
				}
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			cmd, err := parseCommand(line)
			switch {
			case errors.Is(err, ErrQuit):
				return nil
			case err != nil:
				fmt.Fprintln(a.out, err)
				continue
			}
			a.exec(cmd)
		}
	}
}

// applyLogLevel sets the global level from config, flag or env alike.
func applyLogLevel(level string) bool {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return false
	}
	zerolog.SetGlobalLevel(lvl)
	return true
}

func main() {
	fs := pflag.NewFlagSet("presencectl", pflag.ExitOnError)
	id := fs.String("id", "", "user id to announce")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email")
	token := fs.String("token", "", "identity token sent as a bearer header")
	fs.String("server", "", "signaling server websocket url")
	fs.Duration("reconnect-delay", 0, "minimum reconnect delay")
	fs.Duration("reconnect-delay-max", 0, "maximum reconnect delay")
	fs.String("log-level", "", "log level")
	_ = fs.Parse(os.Args[1:])

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.LoadWithFlags(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if !applyLogLevel(cfg.LogLevel) {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping warn")
	}

	user, err := domain.NewUser(*id, *name, *email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "presencectl: --id: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(cfg.Client, eventbus.New(), nil)
	defer c.Close()

	app := &App{c: c, in: bufio.NewReader(os.Stdin), out: os.Stdout}
	c.Bus().Subscribe(eventbus.PresenceChanged, func(data any) {
		if peers, ok := data.([]domain.PeerPresence); ok {
			fmt.Fprintf(app.out, "online (%d):\n", len(peers))
			app.printOnline(peers)
		}
	})
	c.Bus().Subscribe(eventbus.ConnectionState, func(data any) {
		fmt.Fprintf(app.out, "connection: %v\n", data)
	})
	notes, stop := c.Sink().Watch(16)
	defer stop()
	go func() {
		for n := range notes {
			fmt.Fprintf(app.out, "* %s  [%s] %s\n", n.ID, n.Kind, n.Text)
		}
	}()

	if err := c.SetIdentity(&domain.Identity{User: *user, Token: *token}); err != nil {
		fmt.Fprintf(os.Stderr, "presencectl: %v\n", err)
		os.Exit(2)
	}
	fmt.Fprintln(app.out, help)

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "presencectl: %v\n", err)
		os.Exit(1)
	}
}
