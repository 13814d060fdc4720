package memory

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// dialect captures the few SQL differences between the supported backends.
type dialect struct {
	name          string // config name
	driver        string // database/sql driver name
	timestampType string
	numbered      bool // $1, $2 placeholders instead of ?
}

var dialects = map[string]dialect{
	"sqlite":   {name: "sqlite", driver: "sqlite", timestampType: "DATETIME"},
	"postgres": {name: "postgres", driver: "postgres", timestampType: "TIMESTAMPTZ", numbered: true},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported history driver: %q", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}
