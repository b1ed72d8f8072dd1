package storage

import (
	"fmt"
	"strings"

	"github.com/org/envvault/pkg/models"
)

// dialect is the placeholder style of a SQL backend.
type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

func (d dialect) placeholder(n int) string {
	if d == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d dialect) caseInsensitiveLike() string {
	if d == dialectPostgres {
		return "ILIKE"
	}
	// SQLite LIKE already ignores ASCII case.
	return "LIKE"
}

// sqlQuery accumulates a statement and its positional arguments.
type sqlQuery struct {
	d    dialect
	b    strings.Builder
	args []any
}

func newQuery(d dialect, base string) *sqlQuery {
	q := &sqlQuery{d: d}
	q.b.WriteString(base)
	return q
}

// arg appends clause, replacing its single %s with the next placeholder.
func (q *sqlQuery) arg(clause string, v any) {
	q.args = append(q.args, v)
	fmt.Fprintf(&q.b, clause, q.d.placeholder(len(q.args)))
}

func (q *sqlQuery) raw(s string) { q.b.WriteString(s) }

func (q *sqlQuery) page(limit, offset int) {
	if limit > 0 {
		q.arg(" LIMIT %s", limit)
	}
	if offset > 0 {
		if limit <= 0 && q.d == dialectSQLite {
			q.raw(" LIMIT -1")
		}
		q.arg(" OFFSET %s", offset)
	}
}

func (q *sqlQuery) String() string { return q.b.String() }

var entitySortColumns = map[string]string{
	"":          "name",
	"name":      "name",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

const entityColumns = `id, kind, name, slug, project_id, note, rotate_after, rotate_at, last_updated_by_id, created_at, updated_at`

// entityQueries returns the count and page statements for f.
func entityQueries(d dialect, f EntityFilter) (count, list *sqlQuery, err error) {
	col, ok := entitySortColumns[f.Sort]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported entity sort %q", f.Sort)
	}
	where := func(q *sqlQuery) {
		q.raw(" WHERE 1=1")
		if f.ProjectID != "" {
			q.arg(" AND project_id = %s", f.ProjectID)
		}
		if f.Kind != "" {
			q.arg(" AND kind = %s", string(f.Kind))
		}
		if f.Search != "" {
			q.arg(" AND name "+d.caseInsensitiveLike()+" %s", "%"+escapeLike(f.Search)+"%")
			q.raw(` ESCAPE '\'`)
		}
	}
	count = newQuery(d, `SELECT COUNT(*) FROM entities`)
	where(count)
	list = newQuery(d, `SELECT `+entityColumns+` FROM entities`)
	where(list)
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	fmt.Fprintf(&list.b, " ORDER BY %s %s, id %s", col, dir, dir)
	list.page(f.Limit, f.Offset)
	return count, list, nil
}

var revisionSortColumns = map[string]string{
	"":          "version",
	"version":   "version",
	"createdAt": "created_at",
}

const revisionColumns = `id, entity_id, environment_id, version, value, created_at, created_by_id`

func revisionListQuery(d dialect, f RevisionFilter) (*sqlQuery, error) {
	col, ok := revisionSortColumns[f.Sort]
	if !ok {
		return nil, fmt.Errorf("unsupported revision sort %q", f.Sort)
	}
	q := newQuery(d, `SELECT `+revisionColumns+` FROM revisions`)
	q.arg(" WHERE entity_id = %s", f.EntityID)
	q.arg(" AND environment_id = %s", f.EnvironmentID)
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	fmt.Fprintf(&q.b, " ORDER BY %s %s, id %s", col, dir, dir)
	q.page(f.Limit, f.Offset)
	return q, nil
}

const auditColumns = `id, request_id, timestamp, actor_id, operation, resource, outcome, metadata`

func auditQueries(d dialect, f AuditFilter) (count, list *sqlQuery) {
	where := func(q *sqlQuery) {
		q.raw(" WHERE 1=1")
		if f.Operation != "" {
			q.arg(" AND operation = %s", f.Operation)
		}
		if f.Resource != "" {
			q.arg(" AND resource LIKE %s", escapeLike(f.Resource)+"%")
			q.raw(` ESCAPE '\'`)
		}
		if f.Search != "" {
			q.arg(" AND resource "+d.caseInsensitiveLike()+" %s", "%"+escapeLike(f.Search)+"%")
			q.raw(` ESCAPE '\'`)
		}
		if f.Since != nil {
			q.arg(" AND timestamp >= %s", f.Since.UTC())
		}
	}
	count = newQuery(d, `SELECT COUNT(*) FROM audit_log`)
	where(count)
	list = newQuery(d, `SELECT `+auditColumns+` FROM audit_log`)
	where(list)
	if f.Desc {
		list.raw(" ORDER BY id DESC")
	} else {
		list.raw(" ORDER BY id ASC")
	}
	list.page(f.Limit, f.Offset)
	return count, list
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(s rowScanner) (*models.Entity, error) {
	var e models.Entity
	var kind, rotateAfter string
	err := s.Scan(&e.ID, &kind, &e.Name, &e.Slug, &e.ProjectID, &e.Note, &rotateAfter,
		&e.RotateAt, &e.LastUpdatedByID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = models.Kind(kind)
	e.RotateAfter = models.RotationPolicy(rotateAfter)
	return &e, nil
}

func scanRevision(s rowScanner) (*models.Revision, error) {
	var r models.Revision
	err := s.Scan(&r.ID, &r.EntityID, &r.EnvironmentID, &r.Version, &r.Value, &r.CreatedAt, &r.CreatedByID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
