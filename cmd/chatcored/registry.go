package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/eternisai/chatcore/internal/config"
	"github.com/eternisai/chatcore/internal/connset"
	"github.com/eternisai/chatcore/internal/logger"
	"github.com/eternisai/chatcore/internal/message"
	"github.com/eternisai/chatcore/internal/metrics"
	"github.com/eternisai/chatcore/internal/modeldriver"
	"github.com/eternisai/chatcore/internal/session"
	"github.com/eternisai/chatcore/internal/store/pg"
	"github.com/eternisai/chatcore/internal/store/sqlite"
	"github.com/eternisai/chatcore/internal/streamlog"
)

// store bundles the two Persistence implementations a backend must
// provide plus its own lifecycle, so the registry can close it at
// shutdown without caring which driver built it.
type store struct {
	messages  message.Persistence
	streamlog streamlog.Persistence
	close     func() error
}

// backend opens one store per session name (§6: the schema carries no
// session-scoping column, so isolation is a store-instance per name —
// a SQLite file or a Postgres schema — not a WHERE clause).
type backend func(sessionName string) (*store, error)

func newBackend(cfg *config.Config) backend {
	switch cfg.StorageDriver {
	case "postgres":
		return func(sessionName string) (*store, error) {
			s, err := pg.Open(cfg.DatabaseURL, sessionName)
			if err != nil {
				return nil, fmt.Errorf("open postgres store for session %q: %w", sessionName, err)
			}
			return &store{messages: s, streamlog: s, close: s.Close}, nil
		}
	default:
		return func(sessionName string) (*store, error) {
			base := strings.TrimSuffix(cfg.SQLitePath, ".db")
			path := fmt.Sprintf("%s.%s.db", base, sessionName)
			s, err := sqlite.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open sqlite store for session %q: %w", sessionName, err)
			}
			return &store{messages: s, streamlog: s, close: s.Close}, nil
		}
	}
}

// registry is the process-wide session map (§2: "singleton-per-name"),
// implementing both transport.SessionLookup and distributed.Registry.
// Grounded on the teacher's pattern of a mutex-guarded map of
// lazily-constructed per-conversation state (internal/streaming's
// session-by-id map), generalized from sync.Map-of-pointers to an
// explicit lock since construction itself (opening a store, running
// migrations) must happen at most once per name.
type registry struct {
	mu      sync.Mutex
	open    backend
	limits  streamlog.Limits
	driver  modeldriver.Driver
	lg      *logger.Logger
	entries map[string]*controllerEntry
}

type controllerEntry struct {
	ctrl  *session.Controller
	store *store
}

func newRegistry(cfg *config.Config, driver modeldriver.Driver, lg *logger.Logger) *registry {
	return &registry{
		open:    newBackend(cfg),
		limits:  cfg.Tuning.ToLimits(),
		driver:  driver,
		lg:      lg,
		entries: make(map[string]*controllerEntry),
	}
}

// Lookup satisfies distributed.Registry: it never constructs, only
// reports whether this process already owns name.
func (r *registry) Lookup(name string) (*session.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// Resolve satisfies transport.SessionLookup: it constructs name's
// Controller on first use and restores it from its store before
// serving any connection (§4.4.6).
func (r *registry) Resolve(name string) *session.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		return e.ctrl
	}

	st, err := r.open(name)
	if err != nil {
		r.lg.LogError(context.Background(), err, "failed to open session store", "session_name", name)
		return nil
	}

	msgStore := message.NewStore(st.messages, message.JSONCodec{})
	streamLog := streamlog.New(st.streamlog, r.limits)
	conns := connset.NewSet(r.lg.Logger)
	ctrl := session.New(name, msgStore, streamLog, conns, r.driver, r.lg)

	if err := ctrl.Restore(context.Background()); err != nil {
		r.lg.LogError(context.Background(), err, "failed to restore session", "session_name", name)
	}

	r.entries[name] = &controllerEntry{ctrl: ctrl, store: st}
	metrics.ActiveSessions.Set(float64(len(r.entries)))
	return ctrl
}

// Sessions returns a snapshot of every locally-owned Controller, for
// the retention cron job.
func (r *registry) Sessions() []*session.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Controller, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.ctrl)
	}
	return out
}

// Close closes every store this registry opened, for graceful shutdown.
func (r *registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		if err := e.store.close(); err != nil {
			r.lg.LogError(context.Background(), err, "failed to close session store", "session_name", name)
		}
	}
}
