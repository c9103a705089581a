package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/fcptools/fcpd/apiclient"
)

// Client groups subcommands that talk to a running fcpd server.
type Client struct {
	Addr     string `help:"fcpd API server address" default:"127.0.0.1:3654" env:"FCPD_ADDR"`
	Password string `help:"API password (prompts if empty and auth is required)" env:"FCPD_PASSWORD"`

	Ping    ClientPing    `cmd:"" help:"Check server liveness and identity"`
	Version ClientVersion `cmd:"" help:"Show the supported protocol version"`
	Cards   ClientCards   `cmd:"" help:"List attached cards"`
	Init    ClientInit    `cmd:"" help:"Initialize a card and print its init data"`
	Meters  ClientMeters  `cmd:"" help:"Read current meter levels for a card"`
	Notify  ClientNotify  `cmd:"" help:"Stream notification events from a card"`
}

func (c *Client) client() (*apiclient.Client, error) {
	if c.Password != "" {
		return apiclient.NewWithPassword(c.Addr, c.Password), nil
	}
	// An unauthenticated probe tells us whether a password is needed.
	if _, err := apiclient.New(c.Addr).Ping(); err == nil {
		return apiclient.New(c.Addr), nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("server requires a password; set --password or FCPD_PASSWORD")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pwd, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return apiclient.NewWithPassword(c.Addr, strings.TrimSpace(string(pwd))), nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

type ClientPing struct{}

func (p *ClientPing) Run(parent *Client, logger *slog.Logger) error {
	c, err := parent.client()
	if err != nil {
		return err
	}
	resp, err := c.Ping()
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type ClientVersion struct{}

func (v *ClientVersion) Run(parent *Client, logger *slog.Logger) error {
	c, err := parent.client()
	if err != nil {
		return err
	}
	resp, err := c.Version()
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type ClientCards struct{}

func (l *ClientCards) Run(parent *Client, logger *slog.Logger) error {
	c, err := parent.client()
	if err != nil {
		return err
	}
	resp, err := c.CardList()
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type ClientInit struct {
	Card     string `arg:"" help:"Card id (e.g. card0)"`
	RespSize int    `help:"Init response size to request" default:"24"`
}

func (i *ClientInit) Run(parent *Client, logger *slog.Logger) error {
	c, err := parent.client()
	if err != nil {
		return err
	}
	resp, err := c.CardInit(i.Card, i.RespSize)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type ClientMeters struct {
	Card string `arg:"" help:"Card id (e.g. card0)"`
}

func (m *ClientMeters) Run(parent *Client, logger *slog.Logger) error {
	c, err := parent.client()
	if err != nil {
		return err
	}
	resp, err := c.CardMeters(m.Card)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type ClientNotify struct {
	Card string `arg:"" help:"Card id (e.g. card0)"`
}

func (n *ClientNotify) Run(parent *Client, logger *slog.Logger) error {
	c, err := parent.client()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := c.CardNotifyCtx(ctx, n.Card)
	if err != nil {
		return err
	}
	defer stream.Close()

	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Printf("notify bits=0x%08x\n", ev.Bits)
	}
}
