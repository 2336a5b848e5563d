package services

import (
	"context"
	"sync"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"

	"go.uber.org/zap"
)

// AlertBus is the append-only, ordered advisory log for one session. IDs are
// monotonically increasing. Alerts flagged broadcast are relayed to the remote
// peer over the signaling channel when it is online; remote alerts received
// from peers are appended tagged as such, without deduplication.
type AlertBus struct {
	signaler ports.SignalingChannel // may be nil (relay-side or tests)
	repo     ports.AlertRepository  // optional archive, best-effort
	room     domain.RoomID
	limit    int
	logger   *zap.SugaredLogger

	now      func() time.Time
	observer func(domain.Alert) // optional, called after every append

	mu     sync.Mutex
	alerts []domain.Alert
	lastID int64
}

func NewAlertBus(
	signaler ports.SignalingChannel,
	repo ports.AlertRepository,
	room domain.RoomID,
	historyLimit int,
	logger *zap.SugaredLogger,
) *AlertBus {
	return &AlertBus{
		signaler: signaler,
		repo:     repo,
		room:     room,
		limit:    historyLimit,
		logger:   logger,
		now:      time.Now,
	}
}

// SetObserver registers a callback invoked for every appended alert. Used to
// mirror the alert stream into metrics.
func (b *AlertBus) SetObserver(fn func(domain.Alert)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = fn
}

// SetNow overrides the time source. Intended for tests.
func (b *AlertBus) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Push appends a local alert. When broadcast is set and the signaling link is
// online the alert is also sent to the room; a drop while offline is silent,
// matching the best-effort signaling contract.
func (b *AlertBus) Push(level domain.AlertLevel, text string, broadcast bool) domain.Alert {
	alert := b.append(level, text, domain.AlertOriginLocal, broadcast, time.Time{})

	if broadcast && b.signaler != nil && b.signaler.State() == domain.SignalingOnline {
		if err := b.signaler.SendAlert(level, text, alert.Timestamp); err != nil {
			b.logger.Debugw("alert broadcast dropped", "error", err)
		}
	}
	return alert
}

// PushRemote appends an alert received from the remote peer, keeping the
// timestamp it was raised with.
func (b *AlertBus) PushRemote(level domain.AlertLevel, text string, at time.Time) domain.Alert {
	return b.append(level, text, domain.AlertOriginRemote, false, at)
}

// Recent returns up to n alerts, newest first.
func (b *AlertBus) Recent(n int) []domain.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.alerts) {
		n = len(b.alerts)
	}
	out := make([]domain.Alert, 0, n)
	for i := len(b.alerts) - 1; i >= len(b.alerts)-n; i-- {
		out = append(out, b.alerts[i])
	}
	return out
}

// Len returns the total number of alerts appended so far.
func (b *AlertBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.alerts)
}

func (b *AlertBus) append(level domain.AlertLevel, text string, origin domain.AlertOrigin, broadcast bool, at time.Time) domain.Alert {
	b.mu.Lock()
	// IDs come from the local clock even for remote alerts, so ordering of
	// the log never depends on a peer's clock.
	ts := b.now()
	id := ts.UnixMilli()
	if id <= b.lastID {
		id = b.lastID + 1
	}
	b.lastID = id

	if at.IsZero() {
		at = ts
	}
	alert := domain.Alert{
		ID:        id,
		Level:     level,
		Text:      text,
		Origin:    origin,
		Broadcast: broadcast,
		Timestamp: at,
	}
	b.alerts = append(b.alerts, alert)
	// Cap in-memory growth; the log is append-only from the caller's view but
	// only the most recent window is ever displayed.
	if b.limit > 0 && len(b.alerts) > b.limit {
		b.alerts = b.alerts[len(b.alerts)-b.limit:]
	}
	observer := b.observer
	b.mu.Unlock()

	if observer != nil {
		observer(alert)
	}

	if b.repo != nil {
		if err := b.repo.Append(context.Background(), b.room, alert); err != nil {
			b.logger.Debugw("alert archive append failed", "error", err)
		}
	}
	return alert
}
