package rcontext

import (
	"context"

	"github.com/afilmory/builder/common/config"
	"github.com/sirupsen/logrus"
)

// BuildContext is passed explicitly down the Orchestrator -> pool -> pipeline
// call chain. It carries the logger for the current build invocation instead
// of relying on the global logrus instance, so every log line can be tied to
// the photo or stage that produced it.
type BuildContext struct {
	context.Context

	Log    *logrus.Entry
	Config config.BuilderConfig
}

func Initial(cfg config.BuilderConfig) BuildContext {
	return BuildContext{
		Context: context.Background(),
		Log:     logrus.WithFields(logrus.Fields{"build": true}),
		Config:  cfg,
	}
}

func (c BuildContext) WithContext(ctx context.Context) BuildContext {
	return BuildContext{
		Context: ctx,
		Log:     c.Log,
		Config:  c.Config,
	}
}

func (c BuildContext) ReplaceLogger(log *logrus.Entry) BuildContext {
	return BuildContext{
		Context: c.Context,
		Log:     log,
		Config:  c.Config,
	}
}

func (c BuildContext) LogWithFields(fields logrus.Fields) BuildContext {
	return c.ReplaceLogger(c.Log.WithFields(fields))
}
