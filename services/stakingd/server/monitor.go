package server

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"stakepool/native/staking"
)

type auditRecorder interface {
	SetSolvency(reserve, outstanding *big.Int)
	ObserveCheck(accounts int, dust *big.Int, err error, duration time.Duration)
}

// Monitor periodically audits the pool totals and publishes reserve gauges.
type Monitor struct {
	engine   *staking.Engine
	interval time.Duration
	metrics  auditRecorder
	logger   *slog.Logger
}

// NewMonitor constructs a monitor. metrics may be nil.
func NewMonitor(engine *staking.Engine, interval time.Duration, metrics auditRecorder, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{engine: engine, interval: interval, metrics: metrics, logger: logger}
}

// Run audits once immediately and then on every tick. It blocks until ctx is
// cancelled and returns the context error.
func (m *Monitor) Run(ctx context.Context) error {
	if m == nil || m.engine == nil {
		return errors.New("monitor not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("stakingd: invariant monitor started", slog.Duration("interval", m.interval))
	for {
		if err := m.Check(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Check performs a single audit and returns its error, if any.
func (m *Monitor) Check(ctx context.Context) error {
	start := time.Now()
	report, err := m.engine.CheckInvariants()
	if m.metrics != nil {
		m.metrics.ObserveCheck(report.Accounts, report.Dust, err, time.Since(start))
	}
	if err != nil {
		m.logger.Error("stakingd: invariant check failed", slog.Any("error", err))
		return err
	}
	snapshot, err := m.engine.Snapshot(ctx)
	if err != nil {
		m.logger.Warn("stakingd: snapshot failed", slog.Any("error", err))
		return err
	}
	if m.metrics != nil {
		m.metrics.SetSolvency(snapshot.Reserve, snapshot.Outstanding)
	}
	if snapshot.Reserve.Cmp(snapshot.Outstanding) < 0 {
		m.logger.Warn("stakingd: reward reserve below outstanding rewards",
			slog.String("reserve", snapshot.Reserve.String()),
			slog.String("outstanding", snapshot.Outstanding.String()))
	}
	return nil
}
