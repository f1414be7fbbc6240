package workers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"beatwatch/api/services"
	embeddednats "beatwatch/pkg/services/embedded-nats"
)

type Manager struct {
	workers []Worker
	logger  *zap.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewManager(natsClient *embeddednats.EmbeddedNATS, violations *services.ViolationService, db *sql.DB, logger *zap.Logger) (*Manager, error) {
	nc := natsClient.Connection()
	if nc == nil {
		return nil, fmt.Errorf("NATS connection not initialized")
	}

	js := natsClient.JetStream()
	if js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		workers: []Worker{
			NewFixWorker(nc, js, violations, logger),
			NewAuditWorker(nc, js, db, logger),
		},
	}, nil
}

func (m *Manager) Start() error {
	m.logger.Info("Starting NATS workers")

	for _, worker := range m.workers {
		m.wg.Add(1)
		go func(w Worker) {
			defer m.wg.Done()

			if err := w.Start(m.ctx); err != nil && err != context.Canceled {
				m.logger.Error("Worker error",
					zap.String("worker", w.Name()),
					zap.Error(err),
				)
			}
			m.logger.Info("Worker stopped", zap.String("worker", w.Name()))
		}(worker)
	}

	m.logger.Info("Started workers", zap.Int("count", len(m.workers)))
	return nil
}

func (m *Manager) Stop() error {
	m.logger.Info("Stopping NATS workers")

	m.cancel()

	for _, worker := range m.workers {
		if err := worker.Stop(); err != nil {
			m.logger.Error("Error stopping worker",
				zap.String("worker", worker.Name()),
				zap.Error(err),
			)
		}
	}

	m.wg.Wait()
	return nil
}
