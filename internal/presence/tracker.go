// Package presence tracks which viewers are watching which live broadcast.
//
// Membership lives in memory and is mirrored into the broadcast record as an
// aggregate count. Every join or heartbeat restarts a sliding expiry timer, so
// viewers that vanish without leaving are reclaimed after the expiry window.
// Presence operations never surface persistence failures to viewers: the
// in-memory count is served and the result is flagged as degraded. Once a broadcast
// has ended it takes no more viewers.
package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/metrics"
	"github.com/bidli/backend/internal/models"
)

const (
	// DefaultExpiry is the inactivity window after which a viewer is removed.
	DefaultExpiry = 5 * time.Minute
	// DefaultPersistTimeout bounds each durable count write.
	DefaultPersistTimeout = 5 * time.Second
	// DefaultEndedRetention is how long an ended broadcast is remembered in memory.
	DefaultEndedRetention = time.Hour
)

// ErrInvalidViewer is returned when a viewer id is empty.
var ErrInvalidViewer = errors.New("viewer id is required")

// Store persists the aggregate viewer count of a broadcast record.
type Store interface {
	// SetViewerCount writes the counts if seq is newer than the stored sequence. A stale
	// seq is silently ignored and the stored total never decreases. Returns
	// models.ErrNotFound when the record is missing and models.ErrBroadcastEnded when a
	// non-zero count is written to an ended broadcast.
	SetViewerCount(ctx context.Context, broadcastID uuid.UUID, viewers, total int, seq int64) error
	// GetViewerCount returns models.ErrNotFound when the record is missing.
	GetViewerCount(ctx context.Context, broadcastID uuid.UUID) (viewers, total int, err error)
}

// Refresher recomputes the ranking of a broadcast after its viewer count changed.
type Refresher interface {
	RefreshLiveStream(ctx context.Context, broadcastID uuid.UUID) error
}

// CountChangeHandler is called after the viewer count of a broadcast changed. seq orders
// the changes of one broadcast; a handler may drop a change older than one it has seen.
type CountChangeHandler func(broadcastID uuid.UUID, viewers int, seq int64)

// EndHandler is called after End closed a broadcast.
type EndHandler func(broadcastID uuid.UUID)

// Config tunes the tracker. Zero values use the defaults.
type Config struct {
	Expiry         time.Duration
	PersistTimeout time.Duration
	EndedRetention time.Duration
}

// JoinResult is the outcome of a join or heartbeat.
type JoinResult struct {
	Success      bool `json:"success"`
	Viewers      int  `json:"viewers"`
	TotalViewers int  `json:"totalViewers"`
	Heartbeat    bool `json:"heartbeat"`
	Degraded     bool `json:"degraded,omitempty"`
}

// LeaveResult is the outcome of a leave.
type LeaveResult struct {
	Success  bool `json:"success"`
	Viewers  int  `json:"viewers"`
	Removed  bool `json:"removed"`
	Degraded bool `json:"degraded,omitempty"`
}

// Stats is a point-in-time view of a broadcast's audience.
type Stats struct {
	// Current is the larger of the in-memory and durable counts.
	Current int `json:"current"`
	// Total is the number of distinct viewers since the broadcast went live.
	Total int `json:"total"`
	// Cached is the in-memory count on this instance.
	Cached int `json:"cached"`
}

const (
	reasonLeave   = "leave"
	reasonExpired = "expired"
	reasonCleanup = "cleanup"
	reasonEnded   = "ended"
	reasonMissing = "missing"
)

type session struct {
	timer    clockwork.Timer
	gen      uint64
	joinedAt time.Time
}

// room is the viewer set of one broadcast. closed is set once the room was detached
// from the tracker; holders of a closed room must look it up again.
type room struct {
	mu      sync.Mutex
	members map[string]*session
	seen    map[string]struct{}
	closed  bool
}

// Tracker maintains broadcastID -> viewer set. The tracker mutex guards the room and
// ended maps only and is never acquired while a room mutex is held.
//
// Rooms exist only while they have members. Distinct viewers counted before a room was
// dropped survive in the durable total, which the store never lowers.
type Tracker struct {
	mu        sync.Mutex
	rooms     map[uuid.UUID]*room
	ended     map[uuid.UUID]time.Time
	onCount   atomic.Pointer[CountChangeHandler]
	onEnd     atomic.Pointer[EndHandler]
	store     Store
	refresher Refresher
	clock     clockwork.Clock
	cfg       Config
	logger    *zap.Logger
	seq       atomic.Int64
	gen       atomic.Uint64
}

// NewTracker creates a presence tracker. refresher may be nil.
func NewTracker(store Store, refresher Refresher, clock clockwork.Clock, cfg Config, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.EndedRetention <= 0 {
		cfg.EndedRetention = DefaultEndedRetention
	}
	return &Tracker{
		rooms:     make(map[uuid.UUID]*room),
		ended:     make(map[uuid.UUID]time.Time),
		store:     store,
		refresher: refresher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// SetCountChangeHandler sets the callback for viewer count changes.
func (t *Tracker) SetCountChangeHandler(fn CountChangeHandler) {
	if fn == nil {
		t.onCount.Store(nil)
		return
	}
	t.onCount.Store(&fn)
}

// SetEndHandler sets the callback run after a broadcast ended.
func (t *Tracker) SetEndHandler(fn EndHandler) {
	if fn == nil {
		t.onEnd.Store(nil)
		return
	}
	t.onEnd.Store(&fn)
}

// Join adds viewerID to the broadcast, or refreshes its expiry when already present.
// A broadcast without a record reads as empty and keeps no viewers. Joining an ended
// broadcast returns models.ErrBroadcastEnded.
func (t *Tracker) Join(ctx context.Context, broadcastID uuid.UUID, viewerID string) (JoinResult, error) {
	if viewerID == "" {
		return JoinResult{}, ErrInvalidViewer
	}

	r := t.lockRoom(broadcastID, true)
	if r == nil {
		return JoinResult{}, models.ErrBroadcastEnded
	}
	if s, ok := r.members[viewerID]; ok {
		t.schedule(broadcastID, viewerID, s)
		res := JoinResult{Success: true, Viewers: len(r.members), TotalViewers: len(r.seen), Heartbeat: true}
		r.mu.Unlock()
		metrics.PresenceJoinsTotal.WithLabelValues("heartbeat").Inc()
		return res, nil
	}
	s := &session{joinedAt: t.clock.Now()}
	r.members[viewerID] = s
	r.seen[viewerID] = struct{}{}
	t.schedule(broadcastID, viewerID, s)
	viewers, total := len(r.members), len(r.seen)
	seq := t.nextSeq()
	r.mu.Unlock()

	metrics.PresenceJoinsTotal.WithLabelValues("new").Inc()
	metrics.PresenceActiveSessions.Inc()

	res := JoinResult{Success: true, Viewers: viewers, TotalViewers: total}
	err := t.persist(ctx, broadcastID, viewers, total, seq, "join")
	switch {
	case err == nil:
		t.refresh(ctx, broadcastID)
	case errors.Is(err, models.ErrNotFound):
		t.drop(broadcastID, reasonMissing)
		return JoinResult{Success: true}, nil
	case errors.Is(err, models.ErrBroadcastEnded):
		t.retire(broadcastID)
		return JoinResult{}, models.ErrBroadcastEnded
	default:
		res.Degraded = true
	}
	t.notify(broadcastID, viewers, seq)
	return res, nil
}

// Leave removes viewerID from the broadcast. Leaving a broadcast one is not in is a no-op.
func (t *Tracker) Leave(ctx context.Context, broadcastID uuid.UUID, viewerID string) (LeaveResult, error) {
	if viewerID == "" {
		return LeaveResult{}, ErrInvalidViewer
	}
	return t.remove(ctx, broadcastID, viewerID, reasonLeave, 0), nil
}

// remove deletes the session of viewerID. A non-zero gen only removes the session that
// timer generation was scheduled for.
func (t *Tracker) remove(ctx context.Context, broadcastID uuid.UUID, viewerID, reason string, gen uint64) LeaveResult {
	r := t.lockRoom(broadcastID, false)
	if r == nil {
		return LeaveResult{Success: true}
	}
	s, ok := r.members[viewerID]
	if !ok || (gen != 0 && s.gen != gen) {
		res := LeaveResult{Success: true, Viewers: len(r.members)}
		r.mu.Unlock()
		return res
	}
	s.timer.Stop()
	delete(r.members, viewerID)
	viewers, total := len(r.members), len(r.seen)
	seq := t.nextSeq()
	r.mu.Unlock()

	if viewers == 0 {
		t.evict(broadcastID, r)
	}

	metrics.PresenceLeavesTotal.WithLabelValues(reason).Inc()
	metrics.PresenceActiveSessions.Dec()
	t.logger.Debug("viewer removed",
		zap.String("broadcast_id", broadcastID.String()),
		zap.String("viewer_id", viewerID),
		zap.String("reason", reason),
		zap.Duration("watched", t.clock.Since(s.joinedAt)),
	)

	res := LeaveResult{Success: true, Viewers: viewers, Removed: true}
	err := t.persist(ctx, broadcastID, viewers, total, seq, reason)
	switch {
	case err == nil:
		t.refresh(ctx, broadcastID)
	case errors.Is(err, models.ErrNotFound):
		t.drop(broadcastID, reasonMissing)
		return LeaveResult{Success: true, Removed: true}
	case errors.Is(err, models.ErrBroadcastEnded):
		t.retire(broadcastID)
		return LeaveResult{Success: true, Removed: true}
	default:
		res.Degraded = true
	}
	t.notify(broadcastID, viewers, seq)
	return res
}

// Stats reports the audience of a broadcast. A missing broadcast record reads as empty.
func (t *Tracker) Stats(ctx context.Context, broadcastID uuid.UUID) Stats {
	var st Stats
	if r := t.lockRoom(broadcastID, false); r != nil {
		st.Cached = len(r.members)
		st.Total = len(r.seen)
		r.mu.Unlock()
	}
	st.Current = st.Cached

	viewers, total, err := t.store.GetViewerCount(ctx, broadcastID)
	switch {
	case err == nil:
		st.Current = max(st.Current, viewers)
		st.Total = max(st.Total, total)
	case errors.Is(err, models.ErrNotFound):
	default:
		t.logger.Warn("read viewer count failed, serving in-memory count",
			zap.Error(err), zap.String("broadcast_id", broadcastID.String()))
	}
	return st
}

// Cleanup resets presence for a broadcast: every expiry timer is stopped, the viewer set
// is dropped and the durable count is reset to zero. Calling it again is harmless.
func (t *Tracker) Cleanup(ctx context.Context, broadcastID uuid.UUID) error {
	removed, seq := t.drop(broadcastID, reasonCleanup)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.PersistTimeout)
	defer cancel()
	if err := t.store.SetViewerCount(ctx, broadcastID, 0, 0, seq); err != nil && !errors.Is(err, models.ErrNotFound) {
		metrics.PresencePersistFailures.WithLabelValues(reasonCleanup).Inc()
		t.logger.Warn("reset viewer count failed",
			zap.Error(err), zap.String("broadcast_id", broadcastID.String()))
		return err
	}
	t.logger.Info("broadcast presence cleaned up",
		zap.String("broadcast_id", broadcastID.String()), zap.Int("removed", removed))
	t.notify(broadcastID, 0, seq)
	return nil
}

// End closes a broadcast that has ended: presence is cleaned up and later joins are
// refused with models.ErrBroadcastEnded.
func (t *Tracker) End(ctx context.Context, broadcastID uuid.UUID) error {
	t.markEnded(broadcastID)
	err := t.Cleanup(ctx, broadcastID)
	if fn := t.onEnd.Load(); fn != nil {
		(*fn)(broadcastID)
	}
	return err
}

// Close stops every pending expiry timer. The tracker must not be used afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rooms {
		r.mu.Lock()
		for _, s := range r.members {
			s.timer.Stop()
		}
		r.mu.Unlock()
	}
}

// lockRoom returns the locked room of broadcastID, creating it when create is set.
// It returns nil when the room does not exist and create is false, or when the
// broadcast has ended.
func (t *Tracker) lockRoom(broadcastID uuid.UUID, create bool) *room {
	for {
		t.mu.Lock()
		r := t.rooms[broadcastID]
		if r == nil {
			if !create || t.isEnded(broadcastID) {
				t.mu.Unlock()
				return nil
			}
			r = &room{members: make(map[string]*session), seen: make(map[string]struct{})}
			t.rooms[broadcastID] = r
		}
		t.mu.Unlock()

		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
	}
}

// evict detaches r if it is still the room of broadcastID and has no members.
func (t *Tracker) evict(broadcastID uuid.UUID, r *room) {
	t.mu.Lock()
	r.mu.Lock()
	if !r.closed && len(r.members) == 0 && t.rooms[broadcastID] == r {
		r.closed = true
		delete(t.rooms, broadcastID)
	}
	r.mu.Unlock()
	t.mu.Unlock()
}

// drop detaches the room of broadcastID and stops its timers. It returns the number of
// sessions removed and a sequence later than any write issued for the room.
func (t *Tracker) drop(broadcastID uuid.UUID, reason string) (removed int, seq int64) {
	t.mu.Lock()
	r := t.rooms[broadcastID]
	delete(t.rooms, broadcastID)
	if r != nil {
		r.mu.Lock()
		r.closed = true
		for _, s := range r.members {
			s.timer.Stop()
		}
		removed = len(r.members)
		r.members = nil
		r.seen = nil
	}
	// Issued while the room is still locked so that any join on a fresh room gets a later seq.
	seq = t.nextSeq()
	if r != nil {
		r.mu.Unlock()
	}
	t.mu.Unlock()

	if removed > 0 {
		metrics.PresenceLeavesTotal.WithLabelValues(reason).Add(float64(removed))
		metrics.PresenceActiveSessions.Sub(float64(removed))
	}
	return removed, seq
}

// retire forgets the viewers of a broadcast the store reports as ended.
func (t *Tracker) retire(broadcastID uuid.UUID) {
	t.markEnded(broadcastID)
	removed, _ := t.drop(broadcastID, reasonEnded)
	t.logger.Info("broadcast has ended, dropping viewers",
		zap.String("broadcast_id", broadcastID.String()), zap.Int("removed", removed))
}

func (t *Tracker) markEnded(broadcastID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for id, at := range t.ended {
		if now.Sub(at) >= t.cfg.EndedRetention {
			delete(t.ended, id)
		}
	}
	t.ended[broadcastID] = now
}

// isEnded must be called with t.mu held.
func (t *Tracker) isEnded(broadcastID uuid.UUID) bool {
	at, ok := t.ended[broadcastID]
	if !ok {
		return false
	}
	if t.clock.Since(at) >= t.cfg.EndedRetention {
		delete(t.ended, broadcastID)
		return false
	}
	return true
}

// schedule (re)starts the expiry timer of s. Must be called with the room locked.
func (t *Tracker) schedule(broadcastID uuid.UUID, viewerID string, s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen = t.gen.Add(1)
	gen := s.gen
	s.timer = t.clock.AfterFunc(t.cfg.Expiry, func() {
		t.expire(broadcastID, viewerID, gen)
	})
}

func (t *Tracker) expire(broadcastID uuid.UUID, viewerID string, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PersistTimeout)
	defer cancel()
	t.remove(ctx, broadcastID, viewerID, reasonExpired, gen)
}

// nextSeq returns a sequence number greater than any issued before, seeded from the
// clock so that sequences keep increasing across restarts.
func (t *Tracker) nextSeq() int64 {
	for {
		last := t.seq.Load()
		next := max(last+1, t.clock.Now().UnixNano())
		if t.seq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// persist writes a membership change. Store failures other than a missing or ended
// record are logged and counted as non-fatal.
func (t *Tracker) persist(ctx context.Context, broadcastID uuid.UUID, viewers, total int, seq int64, op string) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.PersistTimeout)
	defer cancel()
	err := t.store.SetViewerCount(ctx, broadcastID, viewers, total, seq)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound):
		t.logger.Warn("broadcast record missing, dropping viewers",
			zap.String("broadcast_id", broadcastID.String()), zap.String("operation", op))
	case errors.Is(err, models.ErrBroadcastEnded):
	default:
		metrics.PresencePersistFailures.WithLabelValues(op).Inc()
		t.logger.Warn("persist viewer count failed (non-fatal)",
			zap.Error(err), zap.String("broadcast_id", broadcastID.String()), zap.String("operation", op), zap.Int("viewers", viewers))
	}
	return err
}

func (t *Tracker) refresh(ctx context.Context, broadcastID uuid.UUID) {
	if t.refresher == nil {
		return
	}
	if err := t.refresher.RefreshLiveStream(ctx, broadcastID); err != nil {
		t.logger.Warn("ranking refresh failed (non-fatal)",
			zap.Error(err), zap.String("broadcast_id", broadcastID.String()))
	}
}

func (t *Tracker) notify(broadcastID uuid.UUID, viewers int, seq int64) {
	if fn := t.onCount.Load(); fn != nil {
		(*fn)(broadcastID, viewers, seq)
	}
}
