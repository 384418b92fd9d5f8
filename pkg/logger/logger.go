// Copyright 2021-2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFile is where the file core writes. It is opened on first use.
const LogFile = "/tmp/u-pcie.log"

var (
	LogContainer     = logContainer{fs: afero.NewOsFs(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
	loggerInit       sync.Once
	simpleLoggerInit sync.Once
)

type logContainer struct {
	fs           afero.Fs
	console      io.Writer
	level        zap.AtomicLevel
	logger       *zap.Logger
	simpleLogger *zap.SugaredLogger
}

// GetLogger returns the pointer to the logger and creates one if none exists
func (l *logContainer) GetLogger() *zap.Logger {
	loggerInit.Do(func() {
		l.logger = zap.New(l.getCombinedCore())
	})
	return l.logger
}

// GetSimpleLogger returns the pointer to the sugared logger and creates one
// if none exists
func (l *logContainer) GetSimpleLogger() *zap.SugaredLogger {
	simpleLoggerInit.Do(func() {
		l.simpleLogger = l.GetLogger().Sugar()
	})
	return l.simpleLogger
}

// SetLevel changes the level of every logger handed out so far.
// Register write tracing is only visible at zapcore.DebugLevel.
func (l *logContainer) SetLevel(lvl zapcore.Level) {
	l.level.SetLevel(lvl)
}

// SetFs replaces the filesystem the log file is created on. It has to be
// called before the first GetLogger to have any effect.
func (l *logContainer) SetFs(fs afero.Fs) {
	l.fs = fs
}

// SetConsole replaces stdout as the console sink. Like SetFs it only
// affects loggers created afterwards.
func (l *logContainer) SetConsole(w io.Writer) {
	l.console = w
}

// String mirrors zap.String
func (l *logContainer) String(key string, val string) zap.Field {
	return zap.String(key, val)
}

// Int mirrors zap.Int
func (l *logContainer) Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

// Controller returns the field every per-controller logger is tagged with.
func (l *logContainer) Controller(id int) zap.Field {
	return zap.Int("pcie", id)
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getJsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.EpochTimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func (l *logContainer) getLogWriter() (zapcore.WriteSyncer, error) {
	f, err := l.fs.OpenFile(LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

func (l *logContainer) getConsoleCore() zapcore.Core {
	var w io.Writer = os.Stdout
	if l.console != nil {
		w = l.console
	}
	return zapcore.NewCore(getConsoleEncoder(), zapcore.AddSync(w), l.level)
}

func (l *logContainer) getCombinedCore() zapcore.Core {
	ws, err := l.getLogWriter()
	if err != nil {
		// Early boot may not have a writable /tmp yet, console is enough.
		return l.getConsoleCore()
	}
	return zapcore.NewTee(l.getConsoleCore(), zapcore.NewCore(getJsonEncoder(), ws, l.level))
}
