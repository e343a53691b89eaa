package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/interviewdesk/internal/channel"
	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/config"
	"github.com/zulandar/interviewdesk/internal/dashboard"
	"github.com/zulandar/interviewdesk/internal/evaluation"
	"github.com/zulandar/interviewdesk/internal/followup"
	"github.com/zulandar/interviewdesk/internal/notify"
	"github.com/zulandar/interviewdesk/internal/questions"
	"github.com/zulandar/interviewdesk/internal/room"
	"github.com/zulandar/interviewdesk/internal/session"
)

func newJoinCmd(env *cliEnv) *cobra.Command {
	var (
		candidate string
		serve     bool
		noLease   bool
	)

	cmd := &cobra.Command{
		Use:   "join <room-code>",
		Short: "Join an interview room",
		Long: `Join an interview room and chat in real time.

The reviewer side also gets suggested questions, a follow-up queue and
on-demand answer scoring. Type /help inside the room for commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd, env, args[0], joinOpts{
				candidate: candidate,
				serve:     serve,
				noLease:   noLease,
			})
		},
	}

	cmd.Flags().StringVar(&candidate, "candidate", "", "candidate id to load suggested questions for")
	cmd.Flags().BoolVar(&serve, "dashboard", false, "serve the web dashboard while joined")
	cmd.Flags().BoolVar(&noLease, "no-lease", false, "skip the single-view room lease")
	return cmd
}

type joinOpts struct {
	candidate string
	serve     bool
	noLease   bool
}

func runJoin(cmd *cobra.Command, env *cliEnv, roomCode string, opts joinOpts) error {
	cfg, log, err := env.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	client, err := room.NewClient(room.ClientOpts{BaseURL: cfg.APIURL, Token: cfg.Token, Logger: log})
	if err != nil {
		return err
	}
	lookup, err := client.Lookup(ctx, roomCode)
	if err != nil {
		if errors.Is(err, room.ErrUnavailable) {
			fmt.Fprintf(out, "Room %s is unavailable. Redirecting to /login\n", roomCode)
		}
		return err
	}
	role := lookup.Role()

	redirect := make(chan string, 1)
	sessOpts, store, err := buildSessionOpts(ctx, cfg, log, lookup, opts.noLease)
	if err != nil {
		return err
	}
	// Registered first so it runs after the session releases its lease.
	defer func() {
		if err := closeDB(store); err != nil {
			log.Warn("close local store", zap.Error(err))
		}
	}()
	sessOpts.Navigate = func(path string) {
		select {
		case redirect <- path:
		default:
		}
	}

	sess, err := session.New(sessOpts)
	if err != nil {
		if sessOpts.Lease != nil {
			sessOpts.Lease.Release()
		}
		return err
	}
	defer sess.Close()

	con := newConsole(sess, out)
	updates, unsubscribe := sess.Log().Subscribe(64)
	defer unsubscribe()
	go con.render(updates)

	if err := sess.Open(ctx); err != nil {
		var cerr *session.ConnectionError
		if errors.As(err, &cerr) {
			fmt.Fprintln(out, session.ConnectErrorText)
		}
		return err
	}
	fmt.Fprintf(out, "Joined room %s as %s. Type /help for commands.\n", sess.RoomCode(), role)

	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("session loop", zap.Error(err))
		}
	}()

	if opts.serve {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				Session: sess,
				Port:    cfg.Dashboard.Port,
				Out:     out,
			}); err != nil {
				log.Warn("dashboard", zap.Error(err))
			}
		}()
	}

	if opts.candidate != "" {
		if err := con.handle(ctx, "/load "+opts.candidate); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}

	err = con.loop(ctx, cmd.InOrStdin(), redirect)
	con.wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// buildSessionOpts wires the transport, lease and reviewer tooling for
// one room. The caller owns the returned lease until the session does and
// closes the returned store, which is nil without a lease. On error
// nothing is left open.
func buildSessionOpts(ctx context.Context, cfg *config.Config, log *zap.Logger, lookup *room.Lookup, noLease bool) (session.Opts, *gorm.DB, error) {
	role := lookup.Role()
	code := lookup.Room.RoomCode
	opts := session.Opts{
		Lookup:        lookup,
		Log:           chatlog.New(),
		RedirectDelay: cfg.RedirectDelay(),
		Logger:        log,
	}

	var (
		rec   evaluation.Recorder
		store *gorm.DB
	)
	fail := func(err error) (session.Opts, *gorm.DB, error) {
		if opts.Lease != nil {
			opts.Lease.Release()
		}
		if cerr := closeDB(store); cerr != nil {
			log.Warn("close local store", zap.Error(cerr))
		}
		return opts, nil, err
	}

	if !noLease {
		gormDB, err := openDB(cfg)
		if err != nil {
			return opts, nil, err
		}
		store = gormDB
		lease, err := session.StartLease(session.LeaseOpts{
			DB:        gormDB,
			RoomCode:  code,
			Role:      string(role),
			Holder:    cfg.Session.Holder,
			Timeout:   cfg.LeaseTimeout(),
			Heartbeat: cfg.Session.Heartbeat,
			Logger:    log,
		})
		if err != nil {
			return fail(err)
		}
		opts.Lease = lease
		if rec, err = evaluation.NewStoreRecorder(gormDB); err != nil {
			return fail(err)
		}
	}

	transport, err := channel.NewWebsocket(channel.WebsocketOpts{
		URL:    cfg.SocketEndpoint(),
		Token:  cfg.Token,
		Logger: log,
	})
	if err != nil {
		return fail(err)
	}
	opts.Transport = transport

	if role == room.RoleHR {
		if opts.Requester, err = newRequester(ctx, cfg, log, opts.Log, code, rec); err != nil {
			return fail(err)
		}
		fetcher, err := questions.NewHTTPFetcher(questions.HTTPFetcherOpts{BaseURL: cfg.APIURL, Token: cfg.Token, Logger: log})
		if err != nil {
			return fail(err)
		}
		if opts.Bank, err = questions.NewBank(questions.BankOpts{Fetcher: fetcher, Logger: log}); err != nil {
			return fail(err)
		}
		opts.Queue = followup.NewQueue()
	}

	if opts.Notifier, err = newNotifier(cfg); err != nil {
		return fail(err)
	}
	return opts, store, nil
}

// newRequester builds the answer evaluator for the configured provider.
func newRequester(ctx context.Context, cfg *config.Config, log *zap.Logger, msgs *chatlog.Log, roomCode string, rec evaluation.Recorder) (*evaluation.Requester, error) {
	var scorer evaluation.Scorer
	switch cfg.Evaluation.Provider {
	case "gemini":
		g, err := evaluation.NewGeminiScorer(ctx, cfg.Evaluation.Gemini.APIKey, cfg.Evaluation.Gemini.Model)
		if err != nil {
			return nil, err
		}
		scorer = g
	default:
		h, err := evaluation.NewHTTPScorer(evaluation.HTTPScorerOpts{
			BaseURL:  cfg.APIURL,
			Endpoint: cfg.Evaluation.Endpoint,
			Token:    cfg.Token,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		scorer = h
	}
	return evaluation.NewRequester(evaluation.RequesterOpts{
		Log:      msgs,
		Scorer:   scorer,
		Recorder: rec,
		RoomCode: roomCode,
		Logger:   log,
	})
}

// newNotifier returns the configured summary targets, or nil when none are.
func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	var targets notify.Multi
	if cfg.Notify.SlackWebhook != "" {
		s, err := notify.NewSlack(cfg.Notify.SlackWebhook)
		if err != nil {
			return nil, err
		}
		targets = append(targets, s)
	}
	if cfg.Notify.DiscordWebhook != "" {
		d, err := notify.NewDiscord(cfg.Notify.DiscordWebhook)
		if err != nil {
			return nil, err
		}
		targets = append(targets, d)
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return targets, nil
}

// loop reads lines until quit, EOF, cancellation or a redirect.
func (c *console) loop(ctx context.Context, in io.Reader, redirect <-chan string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-redirect:
			c.printf("Redirecting to %s\n", path)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				c.printf("Error: %v\n", err)
			}
		}
	}
}

// render prints log changes until updates is closed.
func (c *console) render(updates <-chan chatlog.Update) {
	for u := range updates {
		switch u.Kind {
		case chatlog.Appended:
			c.printf("%s\n", formatMessage(u.Index, u.Message))
		case chatlog.Updated:
			if u.Message.Scores != nil || u.Message.EvalState == chatlog.EvalFailed {
				c.printf("%s\n", formatMessage(u.Index, u.Message))
			}
		}
	}
}
