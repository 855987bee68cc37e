// Package dialect holds the per-backend SQL differences of the interval
// store: placeholder syntax, list aggregation, and the sharing queries built
// on top of them. Dialects are looked up by backend name.
package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownDialect is returned by Lookup for unregistered backend names.
var ErrUnknownDialect = errors.New("unknown sql dialect")

// Dialect is one backend's SQL flavour.
type Dialect struct {
	Name string

	placeholder func(n int) string
	aggregate   func(expr string) string
}

var registry = map[string]Dialect{
	"postgres": {
		Name:        "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		aggregate:   func(expr string) string { return "array_to_string(array_agg(" + expr + "), ',')" },
	},
	"mysql": {
		Name:        "mysql",
		placeholder: func(int) string { return "?" },
		aggregate:   func(expr string) string { return "GROUP_CONCAT(" + expr + " SEPARATOR ',')" },
	},
	"sqlite": {
		Name:        "sqlite",
		placeholder: func(int) string { return "?" },
		aggregate:   func(expr string) string { return "GROUP_CONCAT(" + expr + ")" },
	},
}

// Lookup returns the dialect registered under name. Names are matched by
// prefix so driver names like "postgresql" or "sqlite3" resolve too.
func Lookup(name string) (Dialect, error) {
	name = strings.ToLower(name)
	if d, ok := registry[name]; ok {
		return d, nil
	}
	for key, d := range registry {
		if strings.HasPrefix(name, key) {
			return d, nil
		}
	}
	return Dialect{}, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
}

// MustLookup is Lookup for registered names known at compile time.
func MustLookup(name string) Dialect {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string { return d.placeholder(n) }

// AggregateList returns an expression folding expr over a group into one
// comma separated string.
func (d Dialect) AggregateList(expr string) string { return d.aggregate(expr) }

// Query accumulates SQL text and its bind arguments in order of appearance,
// so the same builder code serves numbered and positional placeholders.
type Query struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

// NewQuery starts an empty query in dialect d.
func (d Dialect) NewQuery() *Query { return &Query{d: d} }

// Arg records v and returns its placeholder.
func (q *Query) Arg(v any) string {
	q.args = append(q.args, v)
	return q.d.Placeholder(len(q.args))
}

// Write appends raw SQL.
func (q *Query) Write(s string) *Query {
	q.sb.WriteString(s)
	return q
}

// SQL returns the accumulated statement.
func (q *Query) SQL() string { return q.sb.String() }

// Args returns the bind arguments in placeholder order.
func (q *Query) Args() []any { return q.args }
