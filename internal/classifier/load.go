package classifier

import (
	"context"

	"go.uber.org/zap"

	"phishguard/internal/config"
	"phishguard/internal/ml_client"
)

// Load performs the one-time model initialization. A local artifact wins over
// the remote service. It returns nil, logged once, when neither is usable;
// the classifier then runs in heuristic mode.
func Load(ctx context.Context, cfg *config.Config, logger *zap.Logger) Model {
	if cfg.Model.Path != "" {
		m, err := LoadLinearModel(cfg.Model.Path)
		if err == nil {
			if m.ModelVersion == "" {
				m.ModelVersion = cfg.Model.Version
			}
			logger.Info("Model loaded", zap.String("path", cfg.Model.Path), zap.String("version", m.ModelVersion))
			return m
		}
		logger.Warn("Model artifact unavailable", zap.String("path", cfg.Model.Path), zap.Error(err))
	}

	if cfg.MLService.URL != "" {
		client := ml_client.NewClient(cfg.MLService.URL, cfg.MLServiceTimeout())
		connectCtx, cancel := context.WithTimeout(ctx, cfg.MLServiceTimeout())
		err := client.Connect(connectCtx)
		cancel()
		if err == nil {
			logger.Info("Model service connected", zap.String("url", cfg.MLService.URL), zap.String("version", client.Version()))
			return client
		}
		logger.Warn("Model service unavailable", zap.String("url", cfg.MLService.URL), zap.Error(err))
	}

	logger.Warn("No model available, classifying with keyword heuristic")
	return nil
}
