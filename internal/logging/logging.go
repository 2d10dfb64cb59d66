package logging

import "go.uber.org/zap"

// New returns a JSON production logger, or a console logger for APP_ENV=dev.
func New(appEnv string) (*zap.Logger, error) {
	if appEnv == "dev" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
