package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// listQuery appends the ListOpts filters, ordering and paging to a SELECT
// whose WHERE clause already holds len(args) placeholders.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// apply adds time-window filters on column, orders newest first and pages.
func (q *listQuery) apply(column string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		q.sb.WriteString(" AND " + column + " >= " + q.arg(*opts.Since))
	}
	if opts.Until != nil {
		q.sb.WriteString(" AND " + column + " <= " + q.arg(*opts.Until))
	}
	q.sb.WriteString(" ORDER BY " + column + " DESC")
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
	return q.sb.String(), q.args
}
