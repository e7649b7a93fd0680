// Package codec converts column values between their wire form (as decoded
// from JSON) and the form stored by the engine, keyed by the column type
// named in the catalog.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/errors"
)

// Codec converts values of one column type. Neither direction sees nil.
type Codec interface {
	Name() string
	// Encode turns a caller value into one the engine can store.
	Encode(v any) (any, error)
	// Decode turns an engine value into the caller-facing value.
	Decode(v any) (any, error)
}

// Registry holds codecs by type name.
type Registry struct {
	codecs map[string]Codec
}

func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Default returns a registry with the built-in codecs.
func Default() *Registry {
	return NewRegistry(Long{}, Int{}, Double{}, String{}, Bool{}, Bytes{}, Time{}, UUID{})
}

// Register adds c, replacing any codec of the same name.
func (r *Registry) Register(c Codec) {
	r.codecs[strings.ToLower(c.Name())] = c
}

func (r *Registry) Lookup(name string) (Codec, bool) {
	c, ok := r.codecs[strings.ToLower(name)]
	return c, ok
}

// EncodeRow encodes every value of row whose column has a registered type.
// Other values pass through unchanged. The result is a new map.
func (r *Registry) EncodeRow(td *catalog.TableDetails, row map[string]any) (map[string]any, error) {
	return r.convert(td, row, Codec.Encode)
}

// DecodeRow is EncodeRow in the other direction.
func (r *Registry) DecodeRow(td *catalog.TableDetails, row map[string]any) (map[string]any, error) {
	return r.convert(td, row, Codec.Decode)
}

func (r *Registry) convert(td *catalog.TableDetails, row map[string]any, fn func(Codec, any) (any, error)) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
		if v == nil {
			continue
		}
		col, ok := td.Column(k)
		if !ok || col.Type == "" {
			continue
		}
		c, ok := r.Lookup(col.Type)
		if !ok {
			continue
		}
		cv, err := fn(c, v)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", td.Name, k)
		}
		out[k] = cv
	}
	return out, nil
}

func invalid(typ string, v any) error {
	return errors.Newf(errors.ErrInvalidQuery, "cannot convert %T %v to %s", v, v, typ)
}

func toInt64(typ string, v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, invalid(typ, v)
		}
		return int64(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, invalid(typ, v)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, invalid(typ, v)
		}
		return n, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, invalid(typ, v)
}

type Long struct{}

func (Long) Name() string              { return "long" }
func (Long) Encode(v any) (any, error) { return toInt64("long", v) }
func (Long) Decode(v any) (any, error) { return toInt64("long", v) }

type Int struct{}

func (Int) Name() string { return "int" }

func (Int) Encode(v any) (any, error) {
	n, err := toInt64("int", v)
	if err != nil {
		return nil, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, invalid("int", v)
	}
	return n, nil
}

func (Int) Decode(v any) (any, error) { return toInt64("int", v) }

type Double struct{}

func (Double) Name() string { return "double" }

func (Double) Encode(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, invalid("double", v)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, invalid("double", v)
		}
		return f, nil
	}
	return nil, invalid("double", v)
}

func (d Double) Decode(v any) (any, error) { return d.Encode(v) }

type String struct{}

func (String) Name() string { return "string" }

func (String) Encode(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return nil, invalid("string", v)
}

func (s String) Decode(v any) (any, error) { return s.Encode(v) }

// Bool stores booleans as 0 or 1.
type Bool struct{}

func (Bool) Name() string { return "bool" }

func (Bool) Encode(v any) (any, error) {
	b, err := toBool(v)
	if err != nil {
		return nil, err
	}
	if b {
		return int64(1), nil
	}
	return int64(0), nil
}

func (Bool) Decode(v any) (any, error) { return toBool(v) }

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "t", "yes":
			return true, nil
		case "false", "0", "f", "no":
			return false, nil
		}
		return false, invalid("bool", v)
	}
	n, err := toInt64("bool", v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Bytes travels as standard base64 on the wire.
type Bytes struct{}

func (Bytes) Name() string { return "bytes" }

func (Bytes) Encode(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return nil, invalid("bytes", v)
		}
		return b, nil
	}
	return nil, invalid("bytes", v)
}

func (Bytes) Decode(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case string:
		return base64.StdEncoding.EncodeToString([]byte(x)), nil
	}
	return nil, invalid("bytes", v)
}

// Time travels as RFC 3339 and is stored in UTC. Integers are unix
// milliseconds.
type Time struct{}

func (Time) Name() string { return "time" }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, invalid("time", v)
	}
	ms, err := toInt64("time", v)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (Time) Encode(v any) (any, error) { return parseTime(v) }

func (Time) Decode(v any) (any, error) {
	t, err := parseTime(v)
	if err != nil {
		return nil, err
	}
	return t.Format(time.RFC3339Nano), nil
}

// UUID is stored in its canonical hyphenated form.
type UUID struct{}

func (UUID) Name() string { return "uuid" }

func (UUID) Encode(v any) (any, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String(), nil
	case string:
		id, err := uuid.Parse(x)
		if err != nil {
			return nil, invalid("uuid", v)
		}
		return id.String(), nil
	case []byte:
		id, err := uuid.FromBytes(x)
		if err != nil {
			return nil, invalid("uuid", v)
		}
		return id.String(), nil
	}
	return nil, invalid("uuid", v)
}

func (u UUID) Decode(v any) (any, error) { return u.Encode(v) }
