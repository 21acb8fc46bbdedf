// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"redditwatch/internal/cli"
	"redditwatch/internal/feed"
	"redditwatch/internal/mail"
	"redditwatch/internal/poll"
	"redditwatch/internal/registry"
	"redditwatch/internal/store"
	"redditwatch/internal/telegram"
	"redditwatch/internal/web"
)

func main() { cli.Main(new(app)) }

type app struct {
	adminAddr string
	storeURL  string
	verbose   bool
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.adminAddr, "admin", "", "Admin server `address` (overrides ADMIN_ADDR).")
	fs.StringVar(&a.storeURL, "store", "", "Store `URL` (overrides STORE_URL).")
	fs.BoolVar(&a.verbose, "verbose", false, "Enable debug logging.")
}

func (a *app) Run(ctx context.Context, env *cli.Env) error {
	// Optional; variables from the real environment win.
	godotenv.Load()

	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(env.Stderr, &slog.HandlerOptions{Level: level}))

	tgToken := env.Getenv("TELEGRAM_TOKEN")
	if tgToken == "" {
		return errors.New("missing environment variable TELEGRAM_TOKEN")
	}
	a.adminAddr = cmp.Or(a.adminAddr, env.Getenv("ADMIN_ADDR"), "localhost:3000")
	a.storeURL = cmp.Or(a.storeURL, env.Getenv("STORE_URL"), "mem://")

	cfg := poll.Config{
		BaseInterval:  parseDuration(env.Getenv("BASE_INTERVAL")),
		MaxInterval:   parseDuration(env.Getenv("MAX_INTERVAL")),
		BackoffFactor: parseFloat(env.Getenv("BACKOFF_FACTOR")),
		MaxRetries:    parseInt(env.Getenv("MAX_RETRIES")),
		TickInterval:  parseDuration(env.Getenv("TICK_INTERVAL")),
		DeliveryCap:   parseInt(env.Getenv("DELIVERY_CAP")),
	}

	s, err := openStore(ctx, a.storeURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	fetcher := feed.NewRedditFetcher(feed.RedditOptions{
		BaseURL: env.Getenv("REDDIT_BASE_URL"),
		Timeout: parseDuration(env.Getenv("FETCH_TIMEOUT")),
	})
	reg := registry.New(s)
	states := poll.NewStateStore(s, cfg)
	queue := poll.NewDueQueue()

	tg := telegram.NewClient(tgToken)
	sink, err := buildSink(tg, env.Getenv, logger)
	if err != nil {
		return err
	}

	engine := poll.NewEngine(poll.Options{
		Config:   cfg,
		Registry: reg,
		States:   states,
		Queue:    queue,
		Fetcher:  fetcher,
		Sink:     sink,
		Renderer: telegram.Renderer{},
		Logger:   logger,
	})
	if err := engine.Rehydrate(ctx); err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	bot := telegram.NewBot(telegram.BotOptions{
		Client:    tg,
		Registry:  reg,
		Scheduler: engine,
		Fetcher:   fetcher,
		Logger:    logger,
	})

	srv := web.NewServer(web.Config{
		Addr:     a.adminAddr,
		Registry: reg,
		States:   states,
		Queue:    queue,
		Engine:   engine,
		Logger:   logger,
	})
	srv.Health().RegisterFunc("engine", func() (string, bool) {
		st := engine.Status()
		return st.String(), st == poll.StatusRunning
	})
	srv.Health().RegisterFunc("store", func() (string, bool) {
		if _, err := s.Get(ctx, "health"); err != nil {
			return err.Error(), false
		}
		return "ok", true
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error {
		err := bot.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// sinkMux routes messages to mail or Telegram based on the destination.
type sinkMux struct {
	telegram poll.Sink
	mail     poll.Sink
}

func (m *sinkMux) Send(ctx context.Context, destination, text string) error {
	if strings.HasPrefix(destination, "mailto:") {
		return m.mail.Send(ctx, destination, text)
	}
	return m.telegram.Send(ctx, destination, text)
}

func buildSink(tg *telegram.Client, getenv func(string) string, logger *slog.Logger) (poll.Sink, error) {
	if getenv("SMTP_HOST") == "" {
		return tg, nil
	}
	ms, err := mail.NewSink(mail.Config{
		Host:     getenv("SMTP_HOST"),
		Port:     parseInt(getenv("SMTP_PORT")),
		Username: getenv("SMTP_USERNAME"),
		Password: getenv("SMTP_PASSWORD"),
		From:     getenv("EMAIL_FROM"),
	})
	if err != nil {
		return nil, fmt.Errorf("configuring mail delivery: %w", err)
	}
	logger.Info("mail delivery enabled", "host", getenv("SMTP_HOST"))
	return &sinkMux{telegram: tg, mail: ms}, nil
}

// openStore picks a store backend by the URL scheme.
func openStore(ctx context.Context, storeURL string) (store.Store, error) {
	u, err := url.Parse(storeURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "mem", "":
		return store.NewMemStore(), nil
	case "redis", "rediss":
		return store.NewRedisStore(ctx, storeURL)
	case "postgres", "postgresql":
		return store.NewPostgresStore(ctx, storeURL)
	case "sqlite":
		return store.NewSQLiteStore(ctx, strings.TrimPrefix(strings.TrimPrefix(storeURL, "sqlite://"), "sqlite:"))
	default:
		return nil, fmt.Errorf("unsupported store URL scheme %q", u.Scheme)
	}
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
