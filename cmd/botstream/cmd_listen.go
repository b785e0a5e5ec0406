package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/botstream/internal/config"
	"github.com/user/botstream/internal/engine"
	"github.com/user/botstream/internal/httpapi"
	"github.com/user/botstream/internal/journal"
	"github.com/user/botstream/internal/outbound"
	"github.com/user/botstream/internal/render"
	"github.com/user/botstream/internal/session"
	"github.com/user/botstream/internal/stream"
	"github.com/user/botstream/internal/transcript"
	"github.com/user/botstream/internal/types"
)

func init() {
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to the bot stream and chat from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runListen(ctx, cfg, os.Stdin, os.Stdout)
	},
}

// runListen connects, prints finished bot messages to out, and sends each
// line read from in as a user message until ctx ends or the stream gives up.
func runListen(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	renderer, err := render.New(cfg.Render.Model, cfg.Render.HTML)
	if err != nil {
		return err
	}

	var jr types.Journal
	if cfg.Journal.Enabled {
		jr = journal.New(cfg.DataDir)
	}

	failures := make(chan error, 1)
	var eng *engine.Engine
	onUpdate := func(u engine.Update) {
		switch u.Kind {
		case engine.UpdateStop:
			printMessage(out, renderer, u.MessageID, eng.Transcript(u.MessageID))
		case engine.UpdateMode:
			fmt.Fprintf(out, "[mode: %s]\n", u.Mode)
		case engine.UpdateState:
			slog.Debug("stream state", "state", u.State)
		case engine.UpdateFailure:
			select {
			case failures <- u.Err:
			default:
			}
		}
	}

	eng, err = newEngine(cfg, jr, onUpdate)
	if err != nil {
		return err
	}
	if _, err := eng.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		eng.Close()
		eng.Wait()
	}()

	slog.Info("botstream listening",
		"session", eng.Session().ID(),
		"endpoint", config.MaskURL(eng.Endpoint()),
		"transport", cfg.Stream.Transport,
		"journal", cfg.Journal.Enabled,
	)
	fmt.Fprintf(out, "session %s\n", eng.Session().ID())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case err := <-failures:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	lines := make(chan string)
	go readLines(in, lines)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if _, err := eng.Send(gctx, line); err != nil {
					// outbound failures are surfaced, never fatal
					fmt.Fprintf(out, "! send failed: %v\n", err)
				}
			}
		}
	})

	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: httpapi.NewServer(eng, jr, renderer),
		}
		g.Go(func() error {
			slog.Info("http api listening", "addr", cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// readLines forwards lines from r until EOF. It may outlive the listen loop
// because reads from stdin cannot be interrupted.
func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func printMessage(out io.Writer, r *render.Renderer, id types.MessageID, entry transcript.Entry) {
	if entry.State != transcript.Ready {
		return
	}
	msg, err := r.Render(entry.Text())
	if err != nil {
		slog.Warn("render failed", "message_id", id, "error", err)
		msg = render.Message{Text: entry.Text(), Tokens: r.CountTokens(entry.Text())}
	}
	fmt.Fprintf(out, "bot> %s\n     (%d tokens)\n", msg.Text, msg.Tokens)
}

func newEngine(cfg *config.Config, jr types.Journal, onUpdate func(engine.Update)) (*engine.Engine, error) {
	var transport stream.Transport = stream.NewSSETransport()
	if cfg.Stream.Transport == config.TransportWebSocket {
		transport = stream.NewWebSocketTransport()
	}

	ordering := transcript.ByArrival
	if cfg.Transcript.Ordering == config.OrderingSequence {
		ordering = transcript.BySequence
	}

	sess := session.New(session.NewIdentity())
	return engine.New(sess, engine.Config{
		StreamURL:    cfg.Stream.URL,
		SessionParam: cfg.Stream.SessionParam,
		Transport:    transport,
		Retry: &stream.RetryPolicy{
			MaxAttempts:  cfg.Stream.Retry.MaxAttempts,
			InitialDelay: cfg.InitialDelay(),
			Multiplier:   cfg.Stream.Retry.Multiplier,
			MaxDelay:     cfg.MaxDelay(),
		},
		Limiter:      stream.NewLimiter(int64(cfg.Stream.MaxConnections)),
		Ordering:     ordering,
		Outbound:     outbound.New(cfg.Outbound.URL, cfg.SendTimeout()),
		Journal:      jr,
		Logger:       slog.Default().With("session", sess.ID()),
		DedupeWindow: cfg.Stream.DedupeWindow,
		OnUpdate:     onUpdate,
	})
}
