package log

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/orderlanelabs/orderlane/internal/config"
)

var Module = fx.Module("log",
	fx.Provide(NewLogger),
)

// NewLogger builds the root logger. Production encoding everywhere except
// development, where the console encoder is friendlier.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "development" {
		return zap.NewDevelopment()
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.DisableStacktrace = true

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(
		zap.String("service", cfg.AppName),
		zap.String("version", cfg.AppVersion),
	), nil
}
