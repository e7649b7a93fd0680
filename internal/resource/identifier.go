// Package resource parses resource identifiers of the form
// authority/table[/key][?param=value...] and routes them to catalog tables.
package resource

import (
	"net/url"
	"strings"

	"github.com/zoravur/tablegate/internal/errors"
)

// Recognized query parameters.
const (
	ParamOffset        = "OFFSET"
	ParamLimit         = "LIMIT"
	ParamDistinct      = "DISTINCT"
	ParamGroupBy       = "GROUP_BY"
	ParamHaving        = "HAVING"
	ParamSync          = "IS_SYNC"
	ParamChangeType    = "CPORM_CHANGE_TYPE"
	ParamNotifyChanges = "NOTIFY_CHANGES"
)

// Scheme is accepted in front of identifiers and otherwise ignored.
const Scheme = "content://"

// Identifier addresses a table or a single row. A zero Key addresses the
// whole table.
type Identifier struct {
	Authority string
	Table     string
	Key       string
	Params    url.Values
}

// Parse splits s into its parts. Path segments are unescaped; a trailing
// slash is ignored. Anything other than two or three segments is an
// UnknownResource.
func Parse(s string) (Identifier, error) {
	raw := strings.TrimPrefix(s, Scheme)

	var id Identifier
	path, query, _ := strings.Cut(raw, "?")
	if query != "" {
		params, err := url.ParseQuery(query)
		if err != nil {
			return Identifier{}, errors.Newf(errors.ErrInvalidQuery, "identifier %q: %v", s, err)
		}
		id.Params = params
	}

	path = strings.TrimSuffix(path, "/")
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs) > 3 {
		return Identifier{}, errors.Newf(errors.ErrUnknownResource, "identifier %q: expected authority/table[/key]", s)
	}
	for i, seg := range segs {
		v, err := url.PathUnescape(seg)
		if err != nil || v == "" {
			return Identifier{}, errors.Newf(errors.ErrUnknownResource, "identifier %q: bad segment %d", s, i)
		}
		segs[i] = v
	}

	id.Authority, id.Table = segs[0], segs[1]
	if len(segs) == 3 {
		id.Key = segs[2]
	}
	return id, nil
}

// MustParse is Parse for identifiers known to be valid.
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the canonical form. Params are sorted by name, so two
// identifiers with the same parts render identically.
func (id Identifier) String() string {
	var b strings.Builder
	b.WriteString(url.PathEscape(id.Authority))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(id.Table))
	if id.Key != "" {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(id.Key))
	}
	if len(id.Params) > 0 {
		b.WriteByte('?')
		b.WriteString(id.Params.Encode())
	}
	return b.String()
}

// IsSingleItem reports whether id addresses one row.
func (id Identifier) IsSingleItem() bool { return id.Key != "" }

// Collection returns the identifier of id's table, without key or params.
func (id Identifier) Collection() Identifier {
	return Identifier{Authority: id.Authority, Table: id.Table}
}

// With returns a copy of id with param set to value.
func (id Identifier) With(param, value string) Identifier {
	params := make(url.Values, len(id.Params)+1)
	for k, v := range id.Params {
		params[k] = append([]string(nil), v...)
	}
	params.Set(param, value)
	id.Params = params
	return id
}

// Param returns the first value of param, or "".
func (id Identifier) Param(param string) string {
	return id.Params.Get(param)
}

// Bool reads param as a boolean. "false" and "0" (any case) are false, any
// other present value is true, and a missing param yields def.
func (id Identifier) Bool(param string, def bool) bool {
	if _, ok := id.Params[param]; !ok {
		return def
	}
	v := strings.ToLower(id.Params.Get(param))
	return v != "false" && v != "0"
}
