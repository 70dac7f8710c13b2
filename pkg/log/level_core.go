package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// coreWithLevel wraps a zapcore.Core with an independently adjustable
// level. The wrapped core still decides last, so the wrapper can only
// restrict what the core would log, never widen it. Build the core at
// DebugLevel and restrict from here to get the full dynamic range.
type coreWithLevel struct {
	zapcore.Core

	lvl *zap.AtomicLevel
}

func (c *coreWithLevel) Enabled(level zapcore.Level) bool {
	return c.lvl.Enabled(level) && c.Core.Enabled(level)
}

func (c *coreWithLevel) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	// CheckedEntry allocation lives in zap's unexported ioCore, so
	// admission must be delegated: the wrapper cannot accept an entry the
	// wrapped core rejects.
	if !c.lvl.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With has to rewrap, zap cores return their own private type from With.
func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{
		Core: c.Core.With(fields),
		lvl:  c.lvl,
	}
}

// wrapCoreWithLevel is the zap.Option form of coreWithLevel. Wrapping an
// already wrapped core swaps its level instead of stacking restrictions.
func wrapCoreWithLevel(l *zap.AtomicLevel) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		if lvlCore, ok := core.(*coreWithLevel); ok {
			core = lvlCore.Core
		}

		return &coreWithLevel{
			Core: core,
			lvl:  l,
		}
	})
}
