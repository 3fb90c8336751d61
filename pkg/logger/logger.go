package logger

import (
	"exam_proctor_backend/internal/config"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 在 InitLogger 之前为 Nop，测试中可直接使用
var Log = zap.NewNop()

const defaultLogFile = "logs/proctor.log"

// InitLogger 文件按 JSON 滚动写入，控制台同时输出
func InitLogger(cfg *config.Config) error {
	level, err := parseLevel(cfg.Log.Level, cfg.Server.Mode)
	if err != nil {
		return err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotation(cfg.Log)), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
	)

	Log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).
		With(zap.String("service", "exam-proctor"))
	return nil
}

// rotation 未配置的字段使用默认值，离线脚本直接解析 yaml 时可能为空
func rotation(c config.LogConfig) *lumberjack.Logger {
	l := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   true,
	}
	if l.Filename == "" {
		l.Filename = defaultLogFile
	}
	if l.MaxSize <= 0 {
		l.MaxSize = 100
	}
	return l
}

func parseLevel(level, mode string) (zapcore.Level, error) {
	if level == "" {
		if mode == "debug" {
			return zap.DebugLevel, nil
		}
		return zap.InfoLevel, nil
	}
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// Candidate 带考生与作答次数的子日志，监考事件与交卷日志都按这两个字段检索
func Candidate(candidateID string, attempt int) *zap.Logger {
	return Log.With(zap.String("candidateId", candidateID), zap.Int("attempt", attempt))
}
