package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/bus"
	"github.com/loqalabs/loqa-bridge/internal/config"
	"github.com/loqalabs/loqa-bridge/internal/eventstore"
	"github.com/loqalabs/loqa-bridge/internal/realtime"
	"github.com/loqalabs/loqa-bridge/internal/session"
)

// Runtime owns the process-wide collaborators of one bridge invocation. Optional
// sinks that fail to start are logged and skipped; they never change the result.
type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	telemetryClose func(context.Context) error
	metricsServer  *http.Server
	metricsAddr    string
	bus            *bus.Client
	journal        *eventstore.Store
	wg             sync.WaitGroup
}

// JournalEntry is one finished session as written to the journal.
type JournalEntry struct {
	SessionID string
	Direction session.Direction
	Model     string
	Outcome   session.State
	Result    string
	Events    []session.RecordedEvent
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger}
}

func (r *Runtime) Logger() *slog.Logger { return r.logger }


// Start sets up telemetry and connects the optional bus and journal.
func (r *Runtime) Start(ctx context.Context) error {
	shutdown, metricHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdown

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricHandler != nil {
		if err := r.serveMetrics(bind, metricHandler); err != nil {
			r.logger.Warn("metrics endpoint disabled", slogError(err))
		}
	}

	if r.cfg.Bus.Enabled {
		client, err := bus.Connect(ctx, r.cfg.Bus, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			r.logger.Warn("result fan-out disabled", slogError(err))
		} else {
			r.bus = client
		}
	}

	journal, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		r.logger.Warn("session journal disabled", slogError(err))
	} else {
		r.journal = journal
	}
	return nil
}

func (r *Runtime) serveMetrics(bind string, handler http.Handler) error {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	r.metricsAddr = ln.Addr().String()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", slogError(err))
		}
	}()
	r.logger.Debug("metrics endpoint started", slog.String("addr", r.metricsAddr))
	return nil
}

// MetricsAddr is the bound metrics address, empty when not serving.
func (r *Runtime) MetricsAddr() string { return r.metricsAddr }

// Dialer returns a session.Dialer for the configured realtime endpoint.
func (r *Runtime) Dialer(apiKey string) session.Dialer {
	rc := r.cfg.Realtime
	logger := r.logger.With(slog.String("component", "realtime"))
	return func(model string, cb realtime.Callback) session.Client {
		return realtime.NewClient(realtime.Config{
			URL:              rc.URL,
			Model:            model,
			APIKey:           apiKey,
			DialTimeout:      time.Duration(rc.DialTimeoutMS) * time.Millisecond,
			WriteWait:        time.Duration(rc.WriteTimeoutMS) * time.Millisecond,
			CloseGracePeriod: time.Duration(rc.CloseGraceMS) * time.Millisecond,
			MaxMessageSize:   rc.MaxMessageBytes,
			Logger:           logger,
		}, cb)
	}
}

// Publish fans a result out on the bus when one is connected.
func (r *Runtime) Publish(ctx context.Context, subject string, v any) {
	if r.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.bus.Publish(ctx, subject, v); err != nil {
		r.logger.Warn("publish failed", slog.String("subject", subject), slogError(err))
	}
}

// Record writes a finished session to the journal when one is enabled.
func (r *Runtime) Record(ctx context.Context, entry JournalEntry) {
	if !r.journal.Enabled() {
		return
	}
	if err := r.record(ctx, entry); err != nil {
		r.logger.Warn("journal write failed", slog.String("session_id", entry.SessionID), slogError(err))
	}
}

func (r *Runtime) record(ctx context.Context, entry JournalEntry) error {
	if err := r.journal.OpenSession(ctx, eventstore.Session{
		ID:        entry.SessionID,
		Direction: string(entry.Direction),
		Model:     entry.Model,
	}); err != nil {
		return err
	}
	events := make([]eventstore.Event, 0, len(entry.Events))
	for _, evt := range entry.Events {
		events = append(events, eventstore.Event{
			Type:      evt.Type,
			Payload:   evt.Payload,
			Truncated: evt.Truncated,
			CreatedAt: evt.At,
		})
	}
	if err := r.journal.AppendEvents(ctx, entry.SessionID, events); err != nil {
		return err
	}
	return r.journal.FinishSession(ctx, entry.SessionID, entry.Outcome.String(), entry.Result)
}

// Close flushes telemetry and releases every started collaborator.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		r.wg.Wait()
	}
	r.bus.Close()
	r.bus = nil
	if err := r.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	r.journal = nil
	if r.telemetryClose != nil {
		if err := r.telemetryClose(ctx); err != nil {
			errs = append(errs, err)
		}
		r.telemetryClose = nil
	}
	return errors.Join(errs...)
}
