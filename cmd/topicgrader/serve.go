package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"topicgrader/application/commands"
	pkgerrors "topicgrader/pkg/errors"
)

const (
	defaultServeSession = "default"
	maxLineBytes        = 1 << 20
)

// serveTurn is one line of the serve input stream
type serveTurn struct {
	Session string `json:"session"`
	turn
}

// serveReply is one line of the serve output stream
type serveReply struct {
	Line   int                       `json:"line"`
	Result *commands.AddQAPairResult `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

func newServeCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Grade a stream of newline-delimited JSON turns from stdin",
		Long: `serve reads one JSON object per line, {"session", "question", "answer", "score"},
and writes one JSON result per line. Sessions are created on first use. Idle
sessions are evicted on the cleanup schedule, and /metrics is served when
--metrics-addr is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), save)
		},
	}
	cmd.Flags().StringVar(&a.metricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint")
	cmd.Flags().BoolVar(&save, "save", false, "persist every session when the stream ends")
	return cmd
}

func (a *app) serve(ctx context.Context, save bool) error {
	logger := a.container.Logger.Named("serve")

	a.container.Scheduler.Start(ctx)
	defer a.container.Scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.container.Collector.Handler())
		srv := &http.Server{Addr: a.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("Serving metrics", zap.String("address", a.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-done:
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer close(done)
		return a.consume(gctx, logger)
	})

	err := g.Wait()
	if save {
		if _, serr := a.container.CommandBus.Send(context.WithoutCancel(ctx), &commands.SaveSessionCommand{All: true}); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

// consume grades lines until EOF or cancellation
func (a *app) consume(ctx context.Context, logger *zap.Logger) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	enc := json.NewEncoder(a.out)
	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			n++
			if len(line) == 0 {
				continue
			}
			reply := serveReply{Line: n}
			result, err := a.grade(ctx, line)
			if err != nil {
				logger.Warn("Turn rejected", zap.Int("line", n), zap.Error(err))
				reply.Error = err.Error()
			} else {
				reply.Result = &result
			}
			if err := enc.Encode(reply); err != nil {
				return err
			}
		}
	}
}

// grade files one turn, creating its session when it is not live
func (a *app) grade(ctx context.Context, line []byte) (commands.AddQAPairResult, error) {
	var t serveTurn
	if err := json.Unmarshal(line, &t); err != nil {
		return commands.AddQAPairResult{}, pkgerrors.NewValidationError("malformed line").WithCause(err)
	}
	if t.Session == "" {
		t.Session = defaultServeSession
	}
	cmd := &commands.AddQAPairCommand{
		SessionID: t.Session,
		Question:  t.Question,
		Answer:    t.Answer,
		Score:     t.Score,
		Timestamp: t.Timestamp,
		Metadata:  t.Metadata,
	}

	out, err := a.container.CommandBus.Send(ctx, cmd)
	if pkgerrors.IsNotFound(err) {
		_, err = a.container.CommandBus.Send(ctx, &commands.CreateSessionCommand{SessionID: t.Session})
		if err != nil && !pkgerrors.IsConflict(err) {
			return commands.AddQAPairResult{}, err
		}
		out, err = a.container.CommandBus.Send(ctx, cmd)
	}
	if err != nil {
		return commands.AddQAPairResult{}, err
	}
	return out.(commands.AddQAPairResult), nil
}
