// Package interactive provides the interactive command-line interface
// for the streaming client.
package interactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tradewire-protocol/tradewire-go/pkg/auth"
	"github.com/tradewire-protocol/tradewire-go/pkg/client"
	"github.com/tradewire-protocol/tradewire-go/pkg/market"
	"github.com/tradewire-protocol/tradewire-go/pkg/multiplex"
	"github.com/tradewire-protocol/tradewire-go/pkg/portfolio"
)

// commandTimeout bounds one-shot console operations.
const commandTimeout = 15 * time.Second

// Console handles interactive mode for tradewire-cli.
type Console struct {
	c  *client.Client
	rl *readline.Instance

	// Live watch subscriptions by id, for listing and cleanup.
	watches map[string]string
}

// New creates a console bound to a client.
func New(c *client.Client) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tradewire> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	console := &Console{
		c:       c,
		rl:      rl,
		watches: make(map[string]string),
	}

	// Surface connection-state transitions above the prompt.
	go func() {
		for event := range c.Events() {
			if event.Err != nil {
				fmt.Fprintf(rl.Stdout(), "connection: %s -> %s (%v)\n", event.Old, event.New, event.Err)
				continue
			}
			fmt.Fprintf(rl.Stdout(), "connection: %s -> %s\n", event.Old, event.New)
		}
	}()

	return console, nil
}

// Run starts the interactive command loop.
func (con *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer con.rl.Close()

	con.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := con.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(con.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			con.printHelp()

		case "pair":
			con.cmdPair(args)

		case "code":
			con.cmdCode(args)

		case "login":
			con.cmdLogin(args)

		case "logout":
			con.cmdLogout()

		case "connect":
			con.cmdConnect()

		case "close":
			con.cmdClose()

		case "status":
			con.cmdStatus()

		case "sub":
			con.cmdSub(args)

		case "unsub":
			con.cmdUnsub(args)

		case "watch", "w":
			con.cmdWatch(args)

		case "watches":
			con.cmdWatches()

		case "portfolio", "pf":
			con.cmdPortfolio()

		case "cash":
			con.cmdCash()

		case "search", "s":
			con.cmdSearch(args)

		case "instrument", "i":
			con.cmdInstrument(args)

		case "news":
			con.cmdNews(args)

		case "quit", "exit", "q":
			fmt.Fprintln(con.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(con.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (con *Console) printHelp() {
	fmt.Fprintln(con.rl.Stdout(), `
Tradewire Commands:
  Account:
    pair <phone> <pin>   - Start device pairing (requests a one-time code)
    code <otp>           - Complete pairing with the received code
    login <phone> <pin>  - Log in with the paired device
    logout               - Discard the session (device stays paired)

  Connection:
    connect              - Open the stream (requires a valid session)
    close                - Close the stream (subscriptions are kept)
    status               - Show connection and session state

  Streams:
    sub <type> [json]    - Raw subscribe, e.g. sub ticker {"id":"US0378331005.LSX"}
    unsub <id>           - Unsubscribe by id
    watch <isin.exch>    - Live ticker for an instrument
    watches              - List live watches
    portfolio            - Fetch the portfolio snapshot
    cash                 - Fetch available cash
    search <query>       - Search instruments
    instrument <isin>    - Show instrument details
    news <isin>          - Stream news headlines

  General:
    help                 - Show this help
    quit                 - Exit`)
}

func (con *Console) cmdPair(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: pair <phone> <pin>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	processID, err := con.c.Auth().InitiatePairing(ctx, args[0], args[1])
	if err != nil {
		con.printAuthError("Pairing failed", err)
		return
	}
	fmt.Fprintf(con.rl.Stdout(), "Pairing process %s started. Enter the received code with: code <otp>\n", processID)
}

func (con *Console) cmdCode(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: code <otp>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := con.c.Auth().CompletePairing(ctx, args[0]); err != nil {
		if errors.Is(err, auth.ErrTwoFactorRequired) {
			fmt.Fprintln(con.rl.Stdout(), "Code rejected. Try again with: code <otp>")
			return
		}
		con.printAuthError("Pairing failed", err)
		return
	}
	fmt.Fprintln(con.rl.Stdout(), "Device paired. Log in with: login <phone> <pin>")
}

func (con *Console) cmdLogin(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: login <phone> <pin>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	session, err := con.c.Auth().Login(ctx, args[0], args[1])
	if err != nil {
		con.printAuthError("Login failed", err)
		return
	}
	fmt.Fprintf(con.rl.Stdout(), "Logged in. Session valid until %s.\n", session.ExpiresAt.Format("15:04:05"))
}

func (con *Console) cmdLogout() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := con.c.Auth().Logout(ctx); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Logout failed: %v\n", err)
		return
	}
	fmt.Fprintln(con.rl.Stdout(), "Logged out")
}

func (con *Console) cmdConnect() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := con.c.Connect(ctx); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintln(con.rl.Stdout(), "Connected")
}

func (con *Console) cmdClose() {
	if err := con.c.Close(); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Close failed: %v\n", err)
		return
	}
	fmt.Fprintln(con.rl.Stdout(), "Closed (subscriptions kept; 'connect' resumes)")
}

func (con *Console) cmdStatus() {
	out := con.rl.Stdout()
	fmt.Fprintln(out, "\nClient Status")
	fmt.Fprintln(out, "-------------------------------------------")
	fmt.Fprintf(out, "  Connection:    %s\n", con.c.State())
	fmt.Fprintf(out, "  Pairing:       %s\n", con.c.Auth().State())
	fmt.Fprintf(out, "  Subscriptions: %d\n", con.c.Subscriptions())

	if session := con.c.Auth().CurrentSession(); session != nil {
		fmt.Fprintf(out, "  Session until: %s\n", session.ExpiresAt.Format("15:04:05"))
	} else {
		fmt.Fprintln(out, "  Session:       none")
	}
	fmt.Fprintln(out)
}

func (con *Console) cmdSub(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), `Usage: sub <type> [json params]`)
		return
	}

	var params map[string]any
	if len(args) > 1 {
		raw := strings.Join(args[1:], " ")
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			fmt.Fprintf(con.rl.Stdout(), "Invalid params JSON: %v\n", err)
			return
		}
	}

	out := con.rl.Stdout()
	id, err := con.c.Subscribe(args[0], params, func(e multiplex.Event) {
		switch e.Kind {
		case multiplex.EventData:
			fmt.Fprintf(out, "[%s] %s\n", e.SubscriptionID, e.Payload)
		case multiplex.EventError:
			if e.Err != nil {
				fmt.Fprintf(out, "[%s] error: %v\n", e.SubscriptionID, e.Err)
			} else {
				fmt.Fprintf(out, "[%s] server error: %s\n", e.SubscriptionID, e.Payload)
			}
		case multiplex.EventComplete:
			fmt.Fprintf(out, "[%s] stream complete\n", e.SubscriptionID)
		}
	})
	if err != nil {
		fmt.Fprintf(out, "Subscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Subscribed with id %s\n", id)
}

func (con *Console) cmdUnsub(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: unsub <id>")
		return
	}
	if err := con.c.Unsubscribe(args[0]); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Unsubscribe failed: %v\n", err)
		return
	}
	delete(con.watches, args[0])
	fmt.Fprintln(con.rl.Stdout(), "OK")
}

func (con *Console) cmdWatch(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: watch <isin.exchange>  (e.g. watch US0378331005.LSX)")
		return
	}
	instrumentID := args[0]

	out := con.rl.Stdout()
	id, err := market.StreamTicker(con.c, instrumentID, func(ticker market.Ticker, err error) {
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", instrumentID, err)
			return
		}
		fmt.Fprintf(out, "%s  bid %s  ask %s  last %s\n",
			instrumentID, ticker.Bid.Price, ticker.Ask.Price, ticker.Last.Price)
	})
	if err != nil {
		fmt.Fprintf(out, "Watch failed: %v\n", err)
		return
	}
	con.watches[id] = instrumentID
	fmt.Fprintf(out, "Watching %s (id %s, 'unsub %s' to stop)\n", instrumentID, id, id)
}

func (con *Console) cmdWatches() {
	if len(con.watches) == 0 {
		fmt.Fprintln(con.rl.Stdout(), "No live watches")
		return
	}
	ids := make([]string, 0, len(con.watches))
	for id := range con.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(con.rl.Stdout(), "  %s  %s\n", id, con.watches[id])
	}
}

func (con *Console) cmdPortfolio() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	snapshot, err := portfolio.Get(ctx, con.c, nil)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Portfolio failed: %v\n", err)
		return
	}

	out := con.rl.Stdout()
	if len(snapshot.Positions) == 0 {
		fmt.Fprintln(out, "No positions")
		return
	}
	fmt.Fprintf(out, "\nPositions (%d):\n", len(snapshot.Positions))
	for _, position := range snapshot.Positions {
		fmt.Fprintf(out, "  %-14s size %-10s avg %s\n",
			position.InstrumentID, position.NetSize, position.AveragePrice)
	}
	fmt.Fprintln(out)
}

func (con *Console) cmdCash() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cash, err := portfolio.GetCash(ctx, con.c)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Cash failed: %v\n", err)
		return
	}
	fmt.Fprintf(con.rl.Stdout(), "Available: %s %s\n", cash.Amount, cash.Currency)
}

func (con *Console) cmdSearch(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: search <query>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	results, err := market.Search(ctx, con.c, strings.Join(args, " "), 10)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Search failed: %v\n", err)
		return
	}
	if len(results.Results) == 0 {
		fmt.Fprintln(con.rl.Stdout(), "No results")
		return
	}
	for _, result := range results.Results {
		fmt.Fprintf(con.rl.Stdout(), "  %-14s %-8s %s\n", result.ISIN, result.Type, result.Name)
	}
}

func (con *Console) cmdInstrument(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: instrument <isin>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	instrument, err := market.GetInstrument(ctx, con.c, args[0])
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Instrument failed: %v\n", err)
		return
	}

	out := con.rl.Stdout()
	fmt.Fprintf(out, "  %s (%s)\n", instrument.Name, instrument.ISIN)
	fmt.Fprintf(out, "  Type:      %s\n", instrument.TypeID)
	fmt.Fprintf(out, "  Exchanges: %s\n", strings.Join(instrument.Exchanges, ", "))
}

func (con *Console) cmdNews(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: news <isin>")
		return
	}
	isin := args[0]

	out := con.rl.Stdout()
	id, err := market.StreamNews(con.c, isin, func(items []market.NewsItem, err error) {
		if err != nil {
			fmt.Fprintf(out, "%s news: %v\n", isin, err)
			return
		}
		for _, item := range items {
			fmt.Fprintf(out, "  [%s] %s\n", item.Source, item.Headline)
		}
	})
	if err != nil {
		fmt.Fprintf(out, "News failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Streaming news for %s (id %s)\n", isin, id)
}

// printAuthError maps auth errors to actionable console messages.
func (con *Console) printAuthError(prefix string, err error) {
	out := con.rl.Stdout()

	var rateLimited *auth.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		if rateLimited.RetryAfter > 0 {
			fmt.Fprintf(out, "%s: rate limited, retry in %s\n", prefix, rateLimited.RetryAfter)
		} else {
			fmt.Fprintf(out, "%s: rate limited, retry later\n", prefix)
		}
	case errors.Is(err, auth.ErrAccountNotActive):
		fmt.Fprintf(out, "%s: account is not active\n", prefix)
	case errors.Is(err, auth.ErrNotPaired):
		fmt.Fprintf(out, "%s: no device paired (run 'pair' first)\n", prefix)
	default:
		fmt.Fprintf(out, "%s: %v\n", prefix, err)
	}
}
