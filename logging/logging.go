// Package logging defines the Logger interface used by every component of shardledger.
// It also includes functions for setting the global log level and a per-package log level.
package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logLevel      = zapcore.InfoLevel
	packageLevels = make(map[string]zapcore.Level)
	mut           sync.RWMutex
)

// ParseLevel parses a level name.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	case "fatal":
		return zap.FatalLevel, nil
	}
	return zap.InfoLevel, fmt.Errorf("invalid log level '%s'", level)
}

// SetLogLevel sets the global log level.
func SetLogLevel(levelStr string) error {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return err
	}
	mut.Lock()
	logLevel = level
	mut.Unlock()
	return nil
}

// SetPackageLogLevel sets a log level for a package, overriding the global level.
func SetPackageLogLevel(packageName, levelStr string) error {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return err
	}
	mut.Lock()
	packageLevels[packageName] = level
	mut.Unlock()
	return nil
}

// Logger is the logging interface. It is a subset of zap.SugaredLogger.
type Logger interface {
	Debug(args ...any)
	Debugf(template string, args ...any)
	Info(args ...any)
	Infof(template string, args ...any)
	Warn(args ...any)
	Warnf(template string, args ...any)
	Error(args ...any)
	Errorf(template string, args ...any)
	Fatal(args ...any)
	Fatalf(template string, args ...any)
}

type wrapper struct {
	inner *zap.SugaredLogger
	level zap.AtomicLevel
	mut   sync.Mutex
}

// enter locks the wrapper and applies the level of the calling package.
// The caller must call wr.mut.Unlock.
func (wr *wrapper) enter() *zap.SugaredLogger {
	wr.mut.Lock()

	mut.RLock()
	defer mut.RUnlock()

	level := logLevel
	if len(packageLevels) > 0 {
		// skip enter and the Logger method
		if _, file, _, ok := runtime.Caller(2); ok {
			for pkg, l := range packageLevels {
				if strings.Contains(file, pkg) {
					level = l
					break
				}
			}
		}
	}
	wr.level.SetLevel(level)
	return wr.inner
}

func (wr *wrapper) Debug(args ...any) {
	wr.enter().Debug(args...)
	wr.mut.Unlock()
}

func (wr *wrapper) Debugf(template string, args ...any) {
	wr.enter().Debugf(template, args...)
	wr.mut.Unlock()
}

func (wr *wrapper) Info(args ...any) {
	wr.enter().Info(args...)
	wr.mut.Unlock()
}

func (wr *wrapper) Infof(template string, args ...any) {
	wr.enter().Infof(template, args...)
	wr.mut.Unlock()
}

func (wr *wrapper) Warn(args ...any) {
	wr.enter().Warn(args...)
	wr.mut.Unlock()
}

func (wr *wrapper) Warnf(template string, args ...any) {
	wr.enter().Warnf(template, args...)
	wr.mut.Unlock()
}

func (wr *wrapper) Error(args ...any) {
	wr.enter().Error(args...)
	wr.mut.Unlock()
}

func (wr *wrapper) Errorf(template string, args ...any) {
	wr.enter().Errorf(template, args...)
	wr.mut.Unlock()
}

func (wr *wrapper) Fatal(args ...any) {
	l := wr.enter()
	wr.mut.Unlock()
	l.Fatal(args...)
}

func (wr *wrapper) Fatalf(template string, args ...any) {
	l := wr.enter()
	wr.mut.Unlock()
	l.Fatalf(template, args...)
}

// New returns a new logger for stderr with the given name.
// Setting LEDGER_LOG_TYPE=json switches to zap's production (JSON) encoding.
func New(name string) Logger {
	var config zap.Config
	if strings.ToLower(os.Getenv("LEDGER_LOG_TYPE")) == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.DisableStacktrace = true
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}
	mut.RLock()
	config.Level.SetLevel(logLevel)
	mut.RUnlock()
	l, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return &wrapper{inner: l.Sugar().Named(name), level: config.Level}
}

// NewWithDest returns a new logger for the given destination with the given name.
func NewWithDest(dest io.Writer, name string) Logger {
	mut.RLock()
	atom := zap.NewAtomicLevelAt(logLevel)
	mut.RUnlock()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(dest), atom)
	l := zap.New(core, zap.AddCallerSkip(1))
	return &wrapper{inner: l.Sugar().Named(name), level: atom}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &wrapper{inner: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}
