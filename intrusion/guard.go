// Package intrusion counts failed logins against admin accounts and wipes
// the primary store when an origin keeps trying.
package intrusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tablevault/core"
	"tablevault/metrics"
	"tablevault/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultThreshold is the number of failed logins from one IP against one
// admin email that triggers a wipe.
const DefaultThreshold = 3

// ErrWipeIncomplete is returned when the wipe stopped partway. The primary
// store is partially wiped and needs operator attention; it is never retried.
var ErrWipeIncomplete = errors.New("intrusion wipe incomplete")

// UserLookup finds the account a login targeted.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
}

// AttemptStore persists failed login records in the primary store.
type AttemptStore interface {
	InsertLoginAttempt(ctx context.Context, a *core.LoginAttempt) error
	CountLoginAttempts(ctx context.Context, email, ip string) (int64, error)
}

// LogWriter persists log entries in the primary store.
type LogWriter interface {
	InsertLog(ctx context.Context, e *core.LogEntry) error
}

// Wiper clears the primary store.
type Wiper interface {
	Wipe(ctx context.Context) (*storage.WipeReport, error)
}

// BackupWriter copies documents to the backup store. Dispatch is
// fire-and-forget; Save waits for the write.
type BackupWriter interface {
	Dispatch(collection, id string, doc interface{}) bool
	Save(ctx context.Context, collection, id string, doc interface{}) error
}

// Result describes what one failed login caused.
type Result struct {
	AdminTarget bool
	Attempts    int64
	Wiped       bool
	Report      *storage.WipeReport
}

// Guard is the intrusion response subsystem. Calls are serialized so that
// concurrent failures from one origin cannot both cross the threshold.
type Guard struct {
	users     UserLookup
	attempts  AttemptStore
	logs      LogWriter
	wiper     Wiper
	backup    BackupWriter
	threshold int64
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu sync.Mutex
}

// NewGuard creates a guard. A threshold below 1 uses DefaultThreshold.
func NewGuard(users UserLookup, attempts AttemptStore, logs LogWriter, wiper Wiper, backup BackupWriter, threshold int, logger *zap.SugaredLogger) *Guard {
	if users == nil || attempts == nil || logs == nil || wiper == nil || backup == nil {
		panic("intrusion guard dependencies are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Guard{
		users:     users,
		attempts:  attempts,
		logs:      logs,
		wiper:     wiper,
		backup:    backup,
		threshold: int64(threshold),
		logger:    logger,
		now:       time.Now,
	}
}

// RecordFailedLogin stores the attempt in the primary store, dispatches a
// backup copy and, when the target is an admin whose count for this IP
// reaches the threshold, wipes the primary store. Only primary failures and
// an incomplete wipe are returned.
func (g *Guard) RecordFailedLogin(ctx context.Context, email, ip, userAgent string) (*Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	email = storage.NormalizeEmail(email)
	res := &Result{}

	user, err := g.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		res.AdminTarget = user.IsAdmin
	case !errors.Is(err, core.ErrUserNotFound):
		return nil, fmt.Errorf("failed to look up login target: %w", err)
	}

	attempt := &core.LoginAttempt{
		ID:          uuid.New().String(),
		Email:       email,
		IPAddress:   ip,
		UserAgent:   userAgent,
		Timestamp:   g.now().UTC(),
		AdminTarget: res.AdminTarget,
	}
	if err := g.attempts.InsertLoginAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to record login attempt: %w", err)
	}
	g.backup.Dispatch(storage.CollectionLoginAttempts, attempt.ID, attempt)
	metrics.FailedLogins.WithLabelValues(fmt.Sprint(res.AdminTarget)).Inc()

	if !res.AdminTarget {
		return res, nil
	}

	res.Attempts, err = g.attempts.CountLoginAttempts(ctx, email, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to count login attempts: %w", err)
	}
	g.logger.Warnw("Failed login against admin account",
		"email", email,
		"ip", ip,
		"attempts", res.Attempts,
		"threshold", g.threshold)

	if res.Attempts != g.threshold {
		return res, nil
	}

	res.Wiped = true
	res.Report, err = g.Wipe(ctx, ip, email)
	return res, err
}

// Wipe clears the primary store and writes one critical log entry to the
// primary and the backup store. The backup store's copies are never touched.
func (g *Guard) Wipe(ctx context.Context, ip, email string) (*storage.WipeReport, error) {
	metrics.WipesTriggered.Inc()
	g.logger.Errorw("CRITICAL: intrusion threshold reached, wiping primary store",
		"ip", ip,
		"email", email)

	report, wipeErr := g.wiper.Wipe(ctx)
	if report == nil {
		report = &storage.WipeReport{Deleted: map[string]int64{}}
	}

	entry := core.NewLogEntry(core.SeverityCritical, "intrusion.wipe",
		fmt.Sprintf("primary store wiped after repeated failed logins for %s from %s", email, ip))
	entry.IPAddress = ip
	entry.Details = map[string]string{
		"email":     email,
		"completed": strings.Join(report.Completed, ","),
	}
	if wipeErr != nil {
		entry.Message = fmt.Sprintf("primary store wipe INCOMPLETE after repeated failed logins for %s from %s", email, ip)
		entry.Details["error"] = wipeErr.Error()
	}
	g.writeCritical(ctx, entry)

	if wipeErr != nil {
		metrics.WipeFailures.Inc()
		g.logger.Errorw("CRITICAL: primary store wipe incomplete, operator intervention required",
			"ip", ip,
			"email", email,
			"completed", report.Completed,
			"error", wipeErr)
		return report, fmt.Errorf("%w: %v", ErrWipeIncomplete, wipeErr)
	}

	g.logger.Errorw("CRITICAL: primary store wiped",
		"ip", ip,
		"email", email,
		"deleted", report.Deleted)
	return report, nil
}

// writeCritical stores the wipe record in both stores and waits for both.
// Failures are logged; the wipe itself has already happened.
func (g *Guard) writeCritical(ctx context.Context, entry *core.LogEntry) {
	if err := g.logs.InsertLog(ctx, entry); err != nil {
		g.logger.Errorw("Failed to write critical log entry to primary store", "error", err)
	}
	if err := g.backup.Save(ctx, storage.CollectionLogs, entry.ID, entry); err != nil {
		g.logger.Warnw("Failed to write critical log entry to backup store", "error", err)
	}
}
