package slg

import (
	"context"
	"log/slog"
	"strings"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	slogcommon "github.com/samber/slog-common"
)

const Measurement = "voicestudio_log"

var _ slog.Handler = (*InfluxDBHandler)(nil)

// InfluxDBHandler writes every record as a point. Attributes become fields,
// the level and the op attribute (when present) become tags.
type InfluxDBHandler struct {
	InfluxDBWriter api.WriteAPI
	Level          slog.Leveler

	attrs  []slog.Attr
	groups []string
}

func (h *InfluxDBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.Level == nil {
		return true
	}
	return level >= h.Level.Level()
}

func (h *InfluxDBHandler) Handle(ctx context.Context, record slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+record.NumAttrs()+1)
	tags := map[string]string{
		"level": record.Level.String(),
	}

	add := func(a slog.Attr) {
		key := a.Key
		if len(h.groups) > 0 {
			key = strings.Join(h.groups, ".") + "." + key
		}
		if a.Key == "op" {
			tags["op"] = a.Value.String()
			return
		}
		fields[key] = fieldValue(a.Value.Resolve())
	}

	for _, a := range h.attrs {
		add(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	fields["message"] = record.Message

	h.InfluxDBWriter.WritePoint(write.NewPoint(Measurement, tags, fields, record.Time))

	return nil
}

func fieldValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString, slog.KindInt64, slog.KindUint64, slog.KindFloat64, slog.KindBool:
		return v.Any()
	default:
		return v.String()
	}
}

func (h *InfluxDBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &InfluxDBHandler{
		InfluxDBWriter: h.InfluxDBWriter,
		Level:          h.Level,

		attrs:  slogcommon.AppendAttrsToGroup(h.groups, h.attrs, attrs...),
		groups: h.groups,
	}
}

func (h *InfluxDBHandler) WithGroup(name string) slog.Handler {
	return &InfluxDBHandler{
		InfluxDBWriter: h.InfluxDBWriter,
		Level:          h.Level,

		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}
