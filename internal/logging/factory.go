package logging

import (
	"io"
	"log/slog"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger writing JSON lines to w. format "zap"
// selects zap, "logrus" selects logrus and anything else slog. Every backend
// masks key material.
func New(format string, w io.Writer) (Logger, error) {
	switch format {
	case "zap":
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			zap.InfoLevel,
		)
		return NewZapLogger(zap.New(core)), nil
	case "logrus":
		l := logrus.New()
		l.SetOutput(w)
		l.SetFormatter(&logrus.JSONFormatter{})
		return NewLogrusLogger(l), nil
	}
	return NewSlogLogger(slog.New(NewJSONHandler(w, slog.LevelInfo))), nil
}
