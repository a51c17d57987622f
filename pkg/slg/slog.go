package slg

import (
	"context"
	"log/slog"
)

type slogStruct struct {
	Name string
}

var slogKey = &slogStruct{Name: "slog"}

// GetSlog returns the logger stored in ctx, or slog.Default when there is none.
func GetSlog(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(slogKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func WithSlog(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, slogKey, log)
}
