package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// execer is the narrow interface runPatch needs; satisfied by pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// runPatch builds and runs an UPDATE ... SET col = $n, ... WHERE id = $1 from
// a column->value map, used by every Update* method on tx. Column names have
// already been filtered against the manifest engine's per-entity allowlist
// during preflight, so this never interpolates untrusted identifiers.
func runPatch(ctx context.Context, ex execer, table string, id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	cols := make([]string, 0, len(patch))
	for c := range patch {
		cols = append(cols, c)
	}
	sort.Strings(cols) // deterministic SQL text, easier to debug and to test against

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(table)
	sb.WriteString(" SET ")
	args := make([]any, 0, len(cols)+1)
	args = append(args, id)
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, patch[c])
		fmt.Fprintf(&sb, "%s = $%d", c, len(args))
	}
	sb.WriteString(" WHERE id = $1")

	if _, err := ex.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("postgres: update %s %s: %w", table, id, err)
	}
	return nil
}
