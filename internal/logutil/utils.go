package logutil

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Group nests fields under one object field named key.
func Group(key string, fields ...zap.Field) zap.Field {
	return zap.Object(key, zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for _, f := range fields {
			f.AddTo(enc)
		}
		return nil
	}))
}

// Values is Group under "values".
func Values(fields ...zap.Field) zap.Field { return Group("values", fields...) }

// Row groups the column values of one written row under "row". Columns are
// logged in the order given.
func Row(cols []string, vals []any) zap.Field {
	fields := make([]zap.Field, 0, len(cols))
	for i, c := range cols {
		if i < len(vals) {
			fields = append(fields, zap.Any(c, vals[i]))
		}
	}
	return Group("row", fields...)
}
