package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"parishcal/internal/config"
	"parishcal/internal/ics"
	"parishcal/internal/listing"
	appLog "parishcal/internal/log"
	"parishcal/internal/model"
	"parishcal/internal/recurrence"
	"parishcal/internal/store"
)

const (
	listingCacheTTL = 30 * time.Second
	maxBodyBytes    = 1 << 20
	calendarName    = "Parish events"
)

// Server provides the read API for the site and the admin API for editors.
type Server struct {
	cfg   *config.Config
	store *store.Store
	loc   *time.Location
	mux   *http.ServeMux
	now   func() time.Time

	// Listings keyed by query; dropped whenever the store changes.
	listingMu    sync.RWMutex
	listingCache map[string]listingCache
	// listingGen is bumped by invalidate; listings built under an older
	// generation are not cached.
	listingGen uint64
}

type listingCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Upcoming    []listing.Card `json:"upcoming"`
	Past        []listing.Card `json:"past"`
	GeneratedAt time.Time      `json:"generated_at"`
	TimeZone    string         `json:"timezone"`
}

// eventResponse is the JSON response shape for /api/events/{id}.
type eventResponse struct {
	Event    model.Event      `json:"event"`
	Next     *model.EventDate `json:"next"`
	Upcoming bool             `json:"upcoming"`
}

type nextResponse struct {
	Next *model.EventDate `json:"next"`
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store) *Server {
	s := &Server{
		cfg:          cfg,
		store:        st,
		loc:          cfg.Location(),
		mux:          http.NewServeMux(),
		now:          time.Now,
		listingCache: make(map[string]listingCache),
	}
	st.OnChange(s.invalidate)
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="parishcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, st *store.Store) error {
	s := NewServer(cfg, st)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /api/events/{id}/next", s.handleNext)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents returns the upcoming/past listing.
//
// GET /api/events?lang=ru&days=30
//   - lang: keep events in this language plus untagged ones
//   - days: horizon for upcoming events (default horizon_days)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lang := q.Get("lang")
	switch lang {
	case "", "ru", "en":
	default:
		writeError(w, http.StatusBadRequest, "unsupported lang")
		return
	}
	days := parseIntDefault(q.Get("days"), s.cfg.HorizonDays)
	if days <= 0 {
		days = s.cfg.HorizonDays
	}

	key := lang + "|" + strconv.Itoa(days)

	s.listingMu.RLock()
	lc, ok := s.listingCache[key]
	gen := s.listingGen
	s.listingMu.RUnlock()
	now := s.now()
	if ok && now.Sub(lc.updatedAt) < listingCacheTTL {
		writeJSON(w, http.StatusOK, lc.resp)
		return
	}

	l := listing.Build(s.store.List(), now, listing.Options{
		Location:    s.loc,
		HorizonDays: days,
		PastLimit:   s.cfg.PastLimit,
		Language:    lang,
	})
	resp := eventsResponse{
		Upcoming:    l.Upcoming,
		Past:        l.Past,
		GeneratedAt: now.In(s.loc),
		TimeZone:    s.loc.String(),
	}
	appLog.Debug("api events: listing built", "lang", lang, "days", days, "upcoming", len(l.Upcoming), "past", len(l.Past))

	s.listingMu.Lock()
	if s.listingGen == gen {
		s.listingCache[key] = listingCache{resp: resp, updatedAt: now}
	}
	s.listingMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) invalidate() {
	s.listingMu.Lock()
	s.listingGen++
	clear(s.listingCache)
	s.listingMu.Unlock()
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.lookup(w, r.PathValue("id"))
	if !ok {
		return
	}
	next, upcoming, err := recurrence.Next(ev, s.now().In(s.loc))
	if err != nil {
		appLog.Error("api event: cannot evaluate", err, "id", ev.ID)
		writeError(w, http.StatusInternalServerError, "cannot evaluate event")
		return
	}
	resp := eventResponse{Event: ev, Upcoming: upcoming}
	if upcoming {
		resp.Next = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNext answers the next occurrence as seen from ?from=RFC3339
// (default now). The reference instant is moved into the configured zone.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	from := s.now()
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		from = t
	}

	ev, ok := s.lookup(w, r.PathValue("id"))
	if !ok {
		return
	}
	next, found, err := recurrence.Next(ev, from.In(s.loc))
	if err != nil {
		appLog.Error("api next: cannot evaluate", err, "id", ev.ID)
		writeError(w, http.StatusInternalServerError, "cannot evaluate event")
		return
	}
	var resp nextResponse
	if found {
		resp.Next = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	if ev.ID != "" {
		if _, err := s.store.Get(ev.ID); err == nil {
			writeError(w, http.StatusConflict, "event already exists")
			return
		}
	}
	ev.Source = model.SourceLocal
	ev.CreatedAt, ev.UpdatedAt = time.Time{}, time.Time{}
	s.save(w, ev, http.StatusCreated)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prev, ok := s.lookup(w, id)
	if !ok {
		return
	}
	if prev.Source != model.SourceLocal {
		writeError(w, http.StatusConflict, "imported events are read-only")
		return
	}
	ev, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	ev.ID = id
	ev.Source = model.SourceLocal
	s.save(w, ev, http.StatusOK)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prev, ok := s.lookup(w, id)
	if !ok {
		return
	}
	if prev.Source != model.SourceLocal {
		writeError(w, http.StatusConflict, "imported events are read-only")
		return
	}
	if err := s.store.Delete(id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	body, err := ics.Export(s.store.List(), ics.ExportConfig{
		Name:     calendarName,
		Location: s.loc,
		Now:      s.now(),
	})
	if err != nil {
		appLog.Error("api calendar: export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) lookup(w http.ResponseWriter, id string) (model.Event, bool) {
	ev, err := s.store.Get(id)
	if err != nil {
		s.storeError(w, err)
		return model.Event{}, false
	}
	return ev, true
}

func (s *Server) save(w http.ResponseWriter, ev model.Event, status int) {
	saved, err := s.store.Put(ev)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, status, saved)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, store.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api: store operation failed", err)
		writeError(w, http.StatusInternalServerError, "store failure")
	}
}

func decodeEvent(w http.ResponseWriter, r *http.Request) (model.Event, bool) {
	var ev model.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event JSON: "+err.Error())
		return model.Event{}, false
	}
	return ev, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
