package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"phishguard/internal/metrics"
	"phishguard/internal/repository"
)

const (
	SweepRetention     = "retention"
	SweepAnonymization = "anonymization"
)

// DefaultSweepTimeout bounds a sweep when the policy sets no timeout.
const DefaultSweepTimeout = 10 * time.Minute

// Policy sets the ages past which scans are deleted or anonymized.
type Policy struct {
	RetentionAge     time.Duration
	AnonymizationAge time.Duration
	Interval         time.Duration
	// Timeout bounds one sweep execution.
	Timeout time.Duration
}

// SweepResult describes one sweep execution. Callers that joined an
// execution already in flight get the same result with Shared set.
type SweepResult struct {
	RunID      string    `json:"run_id"`
	Sweep      string    `json:"sweep"`
	Cutoff     time.Time `json:"cutoff"`
	Affected   int64     `json:"affected"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Shared     bool      `json:"shared"`
}

// Manager applies the retention and anonymization policies to the scan log.
type Manager struct {
	db       *sqlx.DB
	policy   Policy
	logger   *zap.Logger
	flights  singleflight.Group
	now      func() time.Time
	scansFor func(repository.DBTX) repository.ScanRepository
}

func NewManager(db *sqlx.DB, policy Policy, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		policy: policy,
		logger: logger,
		now:    time.Now,
		scansFor: func(tx repository.DBTX) repository.ScanRepository {
			return repository.NewScanRepository(tx, logger)
		},
	}
}

// RetentionSweep deletes scans older than the retention age.
func (m *Manager) RetentionSweep(ctx context.Context) (SweepResult, error) {
	return m.sweep(ctx, SweepRetention, m.policy.RetentionAge, repository.ScanRepository.DeleteOlderThan)
}

// AnonymizationSweep clears identifying fields of scans older than the
// anonymization age. Running it again over the same cutoff affects no rows.
func (m *Manager) AnonymizationSweep(ctx context.Context) (SweepResult, error) {
	return m.sweep(ctx, SweepAnonymization, m.policy.AnonymizationAge, repository.ScanRepository.AnonymizeOlderThan)
}

// sweep runs apply once per flight. The execution is detached from the
// callers' contexts so a caller that goes away does not cancel the run for
// the others; such a caller returns its context error right away.
func (m *Manager) sweep(ctx context.Context, name string, age time.Duration,
	apply func(repository.ScanRepository, context.Context, time.Time) (int64, error)) (SweepResult, error) {
	ch := m.flights.DoChan(name, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout())
		defer cancel()

		started := m.now().UTC()
		result := SweepResult{
			RunID:     uuid.New().String(),
			Sweep:     name,
			Cutoff:    started.Add(-age),
			StartedAt: started,
		}
		log := m.logger.With(zap.String("sweep", name), zap.String("run_id", result.RunID))
		log.Info("Starting sweep", zap.Time("cutoff", result.Cutoff))

		err := repository.WithTx(runCtx, m.db, func(tx *sqlx.Tx) error {
			affected, err := apply(m.scansFor(tx), runCtx, result.Cutoff)
			result.Affected = affected
			return err
		})
		result.FinishedAt = m.now().UTC()
		if err != nil {
			metrics.SweepRuns.WithLabelValues(name, "error").Inc()
			log.Error("Sweep failed", zap.Error(err))
			return result, err
		}

		metrics.SweepRuns.WithLabelValues(name, "ok").Inc()
		metrics.SweepAffected.WithLabelValues(name).Add(float64(result.Affected))
		log.Info("Sweep finished",
			zap.Int64("affected", result.Affected),
			zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))
		return result, nil
	})

	select {
	case res := <-ch:
		result, _ := res.Val.(SweepResult)
		result.Shared = res.Shared
		return result, res.Err
	case <-ctx.Done():
		return SweepResult{Sweep: name}, ctx.Err()
	}
}

func (m *Manager) timeout() time.Duration {
	if m.policy.Timeout > 0 {
		return m.policy.Timeout
	}
	return DefaultSweepTimeout
}

// Run sweeps once immediately and then on every policy interval until ctx
// is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("Data lifecycle manager started.", zap.Duration("interval", m.policy.Interval))

	ticker := time.NewTicker(m.policy.Interval)
	defer ticker.Stop()

	m.runAll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Data lifecycle manager stopped.")
			return
		case <-ticker.C:
			m.runAll(ctx)
		}
	}
}

func (m *Manager) runAll(ctx context.Context) {
	if _, err := m.RetentionSweep(ctx); err != nil {
		m.logger.Error("Scheduled retention sweep failed", zap.Error(err))
	}
	if _, err := m.AnonymizationSweep(ctx); err != nil {
		m.logger.Error("Scheduled anonymization sweep failed", zap.Error(err))
	}
}
