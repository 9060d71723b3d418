package fetch

import (
	"context"
	"fmt"
	"time"

	"advsec/core"
	"advsec/metrics"
	"advsec/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CollectionResult summarizes one collection run.
type CollectionResult struct {
	RunID        string        `json:"run_id"`
	Repositories int           `json:"repositories"`
	AlertsStored int           `json:"alerts_stored"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
}

// Collector fetches alerts for a set of repositories and persists them.
// Failures are isolated per repository and per alert: one bad payload never
// aborts the run.
type Collector struct {
	client       *Client
	store        *storage.SQLiteAlertStorage
	organization string
	project      string
	logger       *zap.SugaredLogger
}

// NewCollector wires a fetch client to alert storage.
func NewCollector(client *Client, store *storage.SQLiteAlertStorage, organization, project string, logger *zap.SugaredLogger) *Collector {
	return &Collector{
		client:       client,
		store:        store,
		organization: organization,
		project:      project,
		logger:       logger,
	}
}

// Run collects alerts for the given repositories. When repositories is
// empty, every repository in the project is collected.
func (c *Collector) Run(ctx context.Context, repositories []string) (*CollectionResult, error) {
	start := time.Now()
	result := &CollectionResult{
		RunID: uuid.NewString(),
	}

	logger := c.logger.With("run_id", result.RunID)

	if len(repositories) == 0 {
		logger.Info("No repositories specified, fetching all repositories in project")
		repos, err := c.client.GetRepositories(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		for _, repo := range repos {
			repositories = append(repositories, repo.Name)
		}
	}

	for _, repo := range repositories {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		logger.Infow("Collecting alerts", "repository", repo)
		payloads, err := c.client.GetAlerts(ctx, repo, nil)
		if err != nil {
			logger.Errorw("Failed to fetch alerts, skipping repository",
				"repository", repo,
				"error", err,
			)
			result.Errors++
			continue
		}
		result.Repositories++

		stored := 0
		for _, payload := range payloads {
			alert, err := core.ParseAlert(payload, repo)
			if err != nil {
				logger.Errorw("Failed to parse alert, skipping",
					"repository", repo,
					"error", err,
				)
				result.Errors++
				continue
			}

			if _, err := c.store.StoreAlert(ctx, alert, c.organization, c.project, repo); err != nil {
				logger.Errorw("Failed to store alert, skipping",
					"repository", repo,
					"alert_id", alert.AlertID,
					"error", err,
				)
				result.Errors++
				continue
			}
			stored++
		}

		metrics.AlertsCollected.WithLabelValues(repo).Add(float64(stored))
		result.AlertsStored += stored
		logger.Infow("Repository collected",
			"repository", repo,
			"alerts_found", len(payloads),
			"alerts_stored", stored,
		)
	}

	result.Duration = time.Since(start)
	logger.Infow("Collection run finished",
		"repositories", result.Repositories,
		"alerts_stored", result.AlertsStored,
		"errors", result.Errors,
		"duration", result.Duration,
	)
	return result, nil
}
