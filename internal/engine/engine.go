// Package engine wires validation, detection, scoring, session tracking,
// and alert emission into the single ingestion pipeline behind SubmitEvent.
package engine

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelsec/kestrel/internal/config"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/notify"
	"github.com/kestrelsec/kestrel/internal/store"
	"github.com/kestrelsec/kestrel/internal/validate"
)

// lockStripes is the number of striped actor locks. Events for actors that
// hash to different stripes process fully in parallel.
const lockStripes = 64

// windowGCInterval is how often stale window-buffer entries are collected.
const windowGCInterval = 5 * time.Minute

// Options carries the engine's collaborators.
type Options struct {
	Config    *config.Manager
	Validator *validate.Validator
	Tunables  *detect.Tunables
	Store     store.Store
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine owns all per-actor state for its retention window. Profile,
// session, and alert mutation for one actor is serialized through a
// striped lock; reads for scoring go through the window buffer snapshot.
type Engine struct {
	cfg       *config.Manager
	validator *validate.Validator
	window    *detect.WindowBuffer
	addrs     *detect.AddrTracker
	det       *detect.Detector
	store     store.Store
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger

	locks [lockStripes]sync.Mutex

	sessMu  sync.Mutex
	sessAux map[string]*sessionSets
}

// sessionSets tracks distinct resources and actions seen within one
// session. Auxiliary state only; never persisted.
type sessionSets struct {
	resources map[string]struct{}
	actions   map[string]struct{}
}

// New builds an engine. The window buffer is sized to the mining window so
// both the synchronous heuristics and on-demand mining can slide over it.
func New(opts Options) *Engine {
	snap := opts.Config.Current()

	window := detect.NewWindowBuffer(snap.MiningWindow())
	window.StartGC(windowGCInterval)
	addrs := detect.NewAddrTracker()

	e := &Engine{
		cfg:       opts.Config,
		validator: opts.Validator,
		window:    window,
		addrs:     addrs,
		det:       detect.NewDetector(window, addrs, opts.Tunables),
		store:     opts.Store,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		sessAux:   make(map[string]*sessionSets),
	}
	if e.notifier == nil {
		e.notifier = notify.Noop{}
	}
	return e
}

// Close stops background collection. The store and notifier are owned by
// the caller and closed separately.
func (e *Engine) Close() {
	e.window.StopGC()
}

func (e *Engine) lockFor(actorID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(actorID))
	return &e.locks[h.Sum32()%lockStripes]
}

// sessionAux returns the distinct-resource/action sets for a session,
// creating them on first use.
func (e *Engine) sessionAux(sessionID string) *sessionSets {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	aux, ok := e.sessAux[sessionID]
	if !ok {
		aux = &sessionSets{
			resources: make(map[string]struct{}),
			actions:   make(map[string]struct{}),
		}
		e.sessAux[sessionID] = aux
	}
	return aux
}

func (e *Engine) dropSessionAux(sessionID string) {
	e.sessMu.Lock()
	delete(e.sessAux, sessionID)
	e.sessMu.Unlock()
}
