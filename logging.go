package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	ini "gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	coreLog   *logrus.Entry
	sipLog    *logrus.Entry
	engineLog *logrus.Entry
	logFile   *lumberjack.Logger
)

// initLogging builds the per-subsystem loggers. Console and file outputs are
// attached as writer hooks with independent minimum levels read from the
// [logging] config section.
func initLogging(cfg *ini.File) error {
	sec := cfg.Section("logging")

	consoleMin := toLogrusLevel(sec.Key("console_min_level").MustInt(3))
	fileMin := toLogrusLevel(sec.Key("file_min_level").MustInt(2))

	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("sipconsole.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 1,
	}

	coreLog = newLogger("core", toLogrusLevel(sec.Key("core").MustInt(2)), consoleMin, fileMin, logFile)
	sipLog = newLogger("sip", toLogrusLevel(sec.Key("sip").MustInt(2)), consoleMin, fileMin, logFile)
	engineLog = newLogger("engine", toLogrusLevel(sec.Key("engine").MustInt(3)), consoleMin, fileMin, logFile)
	return nil
}

// closeLogging flushes and closes the log file.
func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// writerHook writes entries to one writer for the selected levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level, consoleMin, fileMin logrus.Level, file io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: os.Stderr, LogLevels: availableLevels(consoleMin)})
	logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin)})
	return logger.WithField("name", name)
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

func toLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}
