package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"sales-dashboard/internal/client"
	"sales-dashboard/internal/config"
	"sales-dashboard/internal/dataset"
	"sales-dashboard/internal/feed"
	"sales-dashboard/internal/models"
	"sales-dashboard/internal/observability"
	"sales-dashboard/internal/session"
)

const version = "1.0.0"

var errUsage = errors.New("usage")

type options struct {
	server      string
	sessionPath string
	username    string
	password    string
	logout      bool
	whoami      bool
	pages       int
	pageSize    int
	maxRetained int
	format      string
	logLevel    string
	timeout     time.Duration
	reqTimeout  time.Duration
	filter      models.QuerySpec
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("salesctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	var startDate, endDate string
	fs.StringVar(&opts.server, "server", "http://localhost:3000", "Sales API base URL")
	fs.StringVar(&opts.sessionPath, "session", "", "Session file (default: user config dir)")
	fs.StringVar(&opts.username, "user", "", "Username to log in with when no session is stored")
	fs.StringVar(&opts.password, "password", "", "Password (default: $SALESCTL_PASSWORD)")
	fs.BoolVar(&opts.logout, "logout", false, "Forget the stored session and exit")
	fs.BoolVar(&opts.whoami, "whoami", false, "Print the logged in user and exit")
	fs.IntVar(&opts.pages, "pages", 1, "Number of pages to load")
	fs.IntVar(&opts.pageSize, "page-size", feed.DefaultPageSize, "Records per page")
	fs.IntVar(&opts.maxRetained, "max-retained", feed.DefaultMaxRetained, "Records kept in memory")
	fs.StringVar(&opts.format, "format", "text", "Output format: text, json")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall timeout")
	fs.DurationVar(&opts.reqTimeout, "request-timeout", 10*time.Second, "Timeout per API request")
	fs.StringVar(&opts.filter.Region, "region", "", "Region contains")
	fs.StringVar(&opts.filter.Country, "country", "", "Country contains")
	fs.StringVar(&opts.filter.ItemType, "item-type", "", "Item type contains")
	fs.StringVar(&opts.filter.SalesChannel, "channel", "", "Sales channel contains")
	fs.StringVar(&opts.filter.OrderPriority, "priority", "", "Order priority (exact)")
	fs.StringVar(&startDate, "start", "", "First order date, inclusive (YYYY-MM-DD)")
	fs.StringVar(&endDate, "end", "", "Last order date, inclusive (YYYY-MM-DD)")
	showVersion := fs.Bool("version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprint(fs.Output(), `salesctl - browse the sales API from a terminal

Usage:
  salesctl -user admin -password secret
  salesctl -region Europe -start 2015-01-01 -end 2015-12-31 -pages 3
  salesctl -whoami
  salesctl -logout

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		fmt.Fprintf(stderr, "salesctl %s\n", version)
		return nil, flag.ErrHelp
	}
	if opts.password == "" {
		opts.password = os.Getenv("SALESCTL_PASSWORD")
	}

	for _, d := range []struct {
		value string
		dst   **time.Time
		name  string
	}{{startDate, &opts.filter.StartDate, "start"}, {endDate, &opts.filter.EndDate, "end"}} {
		if d.value == "" {
			continue
		}
		t, err := dataset.ParseDate(d.value)
		if err != nil {
			return nil, fmt.Errorf("%w: -%s %q is not a date", errUsage, d.name, d.value)
		}
		*d.dst = &t
	}

	if opts.reqTimeout <= 0 {
		return nil, fmt.Errorf("%w: -request-timeout must be positive", errUsage)
	}
	if opts.pages < 1 {
		return nil, fmt.Errorf("%w: -pages must be at least 1", errUsage)
	}
	if opts.format != "text" && opts.format != "json" {
		return nil, fmt.Errorf("%w: -format must be text or json", errUsage)
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger := observability.NewLoggerTo(stderr, config.LoggerConfig{Level: opts.logLevel, Format: "text"})

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	api, err := client.New(opts.server,
		client.WithLogger(logger),
		client.WithHTTPClient(&http.Client{Timeout: opts.reqTimeout}),
	)
	if err != nil {
		return err
	}

	path := opts.sessionPath
	if path == "" {
		if path, err = client.DefaultTokenPath(); err != nil {
			return fmt.Errorf("locate session file: %w", err)
		}
	}
	sessions := session.NewManager(api, client.NewFileTokenStore(path), logger)

	if opts.logout {
		if _, err := sessions.Restore(); err != nil {
			return err
		}
		_, err := sessions.Logout(ctx)
		if err == nil {
			fmt.Fprintln(stdout, "Logged out.")
		}
		return err
	}

	if err := authenticate(ctx, sessions, opts, logger); err != nil {
		return err
	}

	if opts.whoami {
		user, err := api.Profile(ctx)
		if err != nil {
			return fmt.Errorf("fetch profile: %w", err)
		}
		return writeUser(stdout, opts.format, user)
	}

	summary, err := api.Summary(ctx)
	if err != nil {
		return fmt.Errorf("fetch summary: %w", err)
	}

	state, err := browse(ctx, api, opts, logger)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return writeJSON(stdout, summary, state)
	}
	writeText(stdout, summary, state)
	return nil
}

// authenticate restores the stored session and checks it with the server,
// falling back to a password login.
func authenticate(ctx context.Context, sessions *session.Manager, opts *options, logger *slog.Logger) error {
	state, err := sessions.Restore()
	if err != nil {
		return err
	}
	if state.IsAuthenticated() {
		state, err = sessions.Verify(ctx)
		if err == nil {
			return nil
		}
		if state.IsAuthenticated() {
			return fmt.Errorf("verify session: %w", err)
		}
		if client.IsExpired(err) {
			logger.Info("stored session expired")
		} else {
			logger.Info("stored session rejected", "error", err)
		}
	}

	if opts.username == "" || opts.password == "" {
		return errors.New("not logged in: pass -user and -password")
	}
	if _, err := sessions.Login(ctx, opts.username, opts.password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// browse drives the feed controller page by page, retrying a failed page
// once.
func browse(ctx context.Context, api *client.Client, opts *options, logger *slog.Logger) (feed.State, error) {
	ctrl := feed.NewController(api,
		feed.WithPageSize(opts.pageSize),
		feed.WithMaxRetained(opts.maxRetained),
		feed.WithLogger(logger),
	)
	defer ctrl.Close()

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	ctrl.Dispatch(feed.FilterChanged{Filter: opts.filter})

	retried := false
	for loaded := 0; ; {
		state, err := settle(ctx, updates)
		if err != nil {
			return state, err
		}

		if state.Phase == feed.PhaseError {
			if retried {
				return state, fmt.Errorf("load sales: %s", state.Err)
			}
			retried = true
			logger.Warn("page failed, retrying", "error", state.Err)
			ctrl.Dispatch(feed.Retry{})
			continue
		}

		retried = false
		loaded++
		if loaded >= opts.pages || !state.HasMore {
			return state, nil
		}
		ctrl.Dispatch(feed.LoadMore{})
	}
}

// settle waits for the controller to finish its current fetch.
func settle(ctx context.Context, updates <-chan feed.State) (feed.State, error) {
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				return feed.State{}, errors.New("feed closed")
			}
			if s.Phase == feed.PhaseLoaded || s.Phase == feed.PhaseError {
				if s.InFlight == nil {
					return s, nil
				}
			}
		case <-ctx.Done():
			return feed.State{}, ctx.Err()
		}
	}
}

func writeUser(w io.Writer, format string, user models.User) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(user)
	}
	fmt.Fprintf(w, "%s (%s)\n", user.Username, user.Provider)
	if user.Name != "" {
		fmt.Fprintf(w, "Name:  %s\n", user.Name)
	}
	if user.Email != "" {
		fmt.Fprintf(w, "Email: %s\n", user.Email)
	}
	return nil
}

func writeText(w io.Writer, summary models.SummaryView, state feed.State) {
	fmt.Fprintf(w, "Dataset: %d records, revenue %s, profit %s\n",
		summary.TotalRecords, money(summary.TotalRevenue), money(summary.TotalProfit))
	fmt.Fprintf(w, "Showing records %d-%d of %d matching\n\n",
		state.WindowStart+1, state.WindowStart+len(state.Records), state.Total)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tDATE\tREGION\tCOUNTRY\tITEM\tCHANNEL\tUNITS\tREVENUE\tPROFIT")
	for _, r := range state.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.OrderID, r.OrderDate, r.Region, r.Country, r.ItemType, r.SalesChannel,
			r.UnitsSold, money(r.TotalRevenue), money(r.TotalProfit))
	}
	tw.Flush()

	view := feed.BuildView(state.Records)
	fmt.Fprintf(w, "\nLoaded view: %d records, %d units, revenue $%s, profit $%s\n",
		view.Records, view.TotalUnits, view.TotalRevenue.StringFixed(2), view.TotalProfit.StringFixed(2))
	writeSeries(w, "Revenue by region", view.RevenueByRegion, 2)
	writeSeries(w, "Units by item type", view.UnitsByItemType, 0)
	writeSeries(w, "Revenue by channel", view.RevenueByChannel, 2)
	writeSeries(w, "Monthly revenue", view.MonthlyRevenue, 2)
	writeSeries(w, "Profit by region", view.ProfitByRegion, 2)
}

func writeSeries(w io.Writer, title string, points []feed.Point, places int32) {
	if len(points) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, p := range points {
		fmt.Fprintf(tw, "  %s\t%s\t\n", p.Label, p.Value.StringFixed(places))
	}
	tw.Flush()
}

func money(a models.Amount) string {
	f := a.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "n/a"
	}
	return "$" + decimal.NewFromFloat(f).StringFixed(2)
}

func writeJSON(w io.Writer, summary models.SummaryView, state feed.State) error {
	view := feed.BuildView(state.Records)
	out := map[string]any{
		"summary": summary,
		"page": map[string]any{
			"windowStart": state.WindowStart,
			"nextOffset":  state.NextOffset,
			"total":       state.Total,
			"hasMore":     state.HasMore,
		},
		"records": state.Records,
		"view": map[string]any{
			"records":          view.Records,
			"totalUnits":       view.TotalUnits,
			"totalRevenue":     view.TotalRevenue,
			"totalProfit":      view.TotalProfit,
			"revenueByRegion":  seriesJSON(view.RevenueByRegion),
			"unitsByItemType":  seriesJSON(view.UnitsByItemType),
			"revenueByChannel": seriesJSON(view.RevenueByChannel),
			"monthlyRevenue":   seriesJSON(view.MonthlyRevenue),
			"profitByRegion":   seriesJSON(view.ProfitByRegion),
		},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func seriesJSON(points []feed.Point) []map[string]any {
	out := make([]map[string]any, len(points))
	for i, p := range points {
		out[i] = map[string]any{"name": p.Label, "value": p.Value}
	}
	return out
}
