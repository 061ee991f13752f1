package postgres

const createSearchesTable = `CREATE TABLE IF NOT EXISTS searches (
	id           UUID PRIMARY KEY,
	query        TEXT NOT NULL,
	capability   TEXT NOT NULL,
	backend_used TEXT NOT NULL DEFAULT '',
	total        INTEGER NOT NULL DEFAULT 0,
	errors       JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createSearchesIndex = `CREATE INDEX IF NOT EXISTS searches_created_at_idx ON searches (created_at DESC)`

const insertSearch = `INSERT INTO searches
	(id, query, capability, backend_used, total, errors, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING`

// RecentSearchesQuery builds the history listing query.
type RecentSearchesQuery struct {
	capability string
	backend    string
	limit      int
}

func NewRecentSearchesQuery(limit int) *RecentSearchesQuery {
	return &RecentSearchesQuery{limit: limit}
}

func (q *RecentSearchesQuery) Capability(capability string) *RecentSearchesQuery {
	q.capability = capability
	return q
}

func (q *RecentSearchesQuery) Backend(name string) *RecentSearchesQuery {
	q.backend = name
	return q
}

// Build returns the SQL query string and arguments. ok is false when the
// limit is not positive.
func (q *RecentSearchesQuery) Build() (string, []any, bool) {
	if q.limit <= 0 {
		return "", nil, false
	}

	query := `SELECT id, query, capability, backend_used, total, errors, created_at
		FROM searches`

	var args []any

	if q.capability != "" {
		args = append(args, q.capability)
		query += ` WHERE capability = $1`
	}

	if q.backend != "" {
		args = append(args, q.backend)

		if len(args) == 1 {
			query += ` WHERE backend_used = $1`
		} else {
			query += ` AND backend_used = $2`
		}
	}

	args = append(args, q.limit)

	switch len(args) {
	case 1:
		query += ` ORDER BY created_at DESC LIMIT $1`
	case 2:
		query += ` ORDER BY created_at DESC LIMIT $2`
	default:
		query += ` ORDER BY created_at DESC LIMIT $3`
	}

	return query, args, true
}
