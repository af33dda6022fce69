// Copyright (c) 2026 The AsyncTCP-Go Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package asynclog provides logging functionality for the async TCP engine.
// It sets up a default logger (powered by go.uber.org/zap) used by the
// service loop, client connections and listening servers. Callers may
// replace the default logger with their own implementation of the Logger
// interface via the WithLogger option.
//
// The environment variable ASYNCTCP_LOGGING_LEVEL determines which zap
// logger level is applied by default. ASYNCTCP_LOGGING_FILE, when set,
// redirects logging to a local, rotated file instead of stderr.
package asynclog

import (
	"errors"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	flushLogs           func() error
	defaultLogger       Logger
	defaultLoggingLevel Level
)

// Level is the alias of zapcore.Level.
type Level = zapcore.Level

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	DPanicLevel
	PanicLevel
	FatalLevel
)

func init() {
	lvl := os.Getenv("ASYNCTCP_LOGGING_LEVEL")
	if len(lvl) > 0 {
		loggingLevel, err := strconv.ParseInt(lvl, 10, 8)
		if err != nil {
			panic("invalid ASYNCTCP_LOGGING_LEVEL, " + err.Error())
		}
		defaultLoggingLevel = Level(loggingLevel)
	}

	fileName := os.Getenv("ASYNCTCP_LOGGING_FILE")
	if len(fileName) > 0 {
		var err error
		defaultLogger, flushLogs, err = CreateLoggerAsLocalFile(fileName, defaultLoggingLevel)
		if err != nil {
			panic("invalid ASYNCTCP_LOGGING_FILE, " + err.Error())
		}
	} else {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(defaultLoggingLevel)
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		zapLogger, _ := cfg.Build()
		defaultLogger = zapLogger.Sugar()
	}
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// GetDefaultLogger returns the default logger.
func GetDefaultLogger() Logger {
	return defaultLogger
}

// CreateLoggerAsLocalFile sets up a rotated-file logger via lumberjack.
func CreateLoggerAsLocalFile(localFilePath string, logLevel Level) (logger Logger, flush func() error, err error) {
	if len(localFilePath) == 0 {
		return nil, nil, errors.New("invalid local logger path")
	}

	lumberJackLogger := &lumberjack.Logger{
		Filename:   localFilePath,
		MaxSize:    100, // megabytes
		MaxBackups: 2,
		MaxAge:     15, // days
	}

	encoder := getEncoder()
	ws := zapcore.AddSync(lumberJackLogger)
	zapcore.Lock(ws)

	levelEnabler := zap.LevelEnablerFunc(func(level Level) bool {
		return level >= logLevel
	})
	core := zapcore.NewCore(encoder, ws, levelEnabler)
	zapLogger := zap.New(core, zap.AddCaller())
	logger = zapLogger.Sugar()
	flush = zapLogger.Sync
	return
}

// Cleanup flushes the default logger, if it buffers.
func Cleanup() {
	if flushLogs != nil {
		_ = flushLogs()
	}
}

// Logger is used for logging formatted messages.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// ConnEvent logs a connection lifecycle transition — connect, accept or
// disconnect — at Info level, tagged with the peer address a caller reads
// off Client.RemoteAddr/Server accept path.
func ConnEvent(logger Logger, event, remote string) {
	logger.Infof("%s %s", event, remote)
}

// AckTimeout logs the write queue's head buffer going unacknowledged past
// its ack_timeout_ms deadline, tagged with how long it has been waiting.
func AckTimeout(logger Logger, remote string, delay time.Duration) {
	logger.Warnf("ack timeout: no ack from %s after %s", remote, delay)
}

// RxTimeout logs a connection torn down for exceeding rx_timeout_s with no
// bytes received, tagged with the configured timeout window.
func RxTimeout(logger Logger, remote string, timeout time.Duration) {
	logger.Warnf("rx timeout: no data from %s in %s", remote, timeout)
}

// DNSFailure logs a ConnectHost call whose resolver could not produce an
// address for host.
func DNSFailure(logger Logger, host string) {
	logger.Warnf("dns lookup failed for %s", host)
}
