package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"LicensePlatform/pkg/logger"
)

// ExpiringObserver получает размер последнего отчета
type ExpiringObserver interface {
	SetExpiringLicenses(count int)
}

// ExpiringReporter по расписанию считает активные ключи, истекающие в ближайшие days дней.
// Только чтение: статусы ключей не меняются.
type ExpiringReporter struct {
	engine   *Engine
	days     int
	timeout  time.Duration
	observer ExpiringObserver
	cron     *cron.Cron
	logger   logger.Logger
}

// NewExpiringReporter создает отчет. Расписание задается в формате cron с секундами.
func NewExpiringReporter(engine *Engine, days int, observer ExpiringObserver, log logger.Logger) *ExpiringReporter {
	if days <= 0 {
		days = DefaultExpiringDays
	}
	return &ExpiringReporter{
		engine:   engine,
		days:     days,
		timeout:  30 * time.Second,
		observer: observer,
		cron:     cron.New(cron.WithSeconds()),
		logger:   log.Named("expiring_report"),
	}
}

// Start регистрирует задачу и запускает планировщик
func (r *ExpiringReporter) Start(schedule string) error {
	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.logger.Error("Expiring report failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid expiring report schedule %q: %w", schedule, err)
	}

	r.cron.Start()
	r.logger.Info("Expiring report scheduled",
		logger.String("schedule", schedule),
		logger.Int("days", r.days),
	)
	return nil
}

// Stop останавливает планировщик и ждет завершения текущего запуска
func (r *ExpiringReporter) Stop() {
	<-r.cron.Stop().Done()
}

// Run строит отчет один раз и возвращает число ключей по приложениям
func (r *ExpiringReporter) Run(ctx context.Context) (map[int64]int, error) {
	licenses, err := r.engine.ListExpiring(ctx, nil, r.days)
	if err != nil {
		return nil, err
	}

	perApp := make(map[int64]int)
	for _, l := range licenses {
		perApp[l.AppID]++
	}
	for appID, count := range perApp {
		r.logger.Debug("Licenses expiring",
			logger.Int64("app_id", appID),
			logger.Int("count", count),
		)
	}

	if r.observer != nil {
		r.observer.SetExpiringLicenses(len(licenses))
	}
	r.logger.Info("Expiring report",
		logger.Int("total", len(licenses)),
		logger.Int("apps", len(perApp)),
		logger.Int("days", r.days),
	)
	return perApp, nil
}
