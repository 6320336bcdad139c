package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Per-tenant message table. %[1]s is always a validated tenant.Table.
const (
	createMessageTableQuery = `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			wa_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			timestamp BIGINT NOT NULL,
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			image_url TEXT,
			image_id TEXT,
			created_at BIGINT NOT NULL
		)
	`

	createMessageIndexQuery = `
		CREATE INDEX IF NOT EXISTS idx_%[1]s_conversation ON %[1]s (wa_id, timestamp)
	`

	insertMessageQuery = `
		INSERT INTO %[1]s (
			id, wa_id, name, type, body, timestamp,
			direction, status, read, image_url, image_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	updateStatusQuery = `
		UPDATE %[1]s SET status = ?, read = (read OR ?) WHERE id = ?
	`

	selectChatsQuery = `
		SELECT l.wa_id,
			   COALESCE((
				   SELECT i.name FROM %[1]s i
				   WHERE i.wa_id = l.wa_id AND i.direction = ? AND i.name <> ''
				   ORDER BY i.timestamp DESC, i.created_at DESC
				   LIMIT 1
			   ), ''),
			   l.timestamp, l.body,
			   (
				   SELECT COUNT(*) FROM %[1]s u
				   WHERE u.wa_id = l.wa_id AND u.direction = ? AND u.read = ?
			   )
		FROM (
			SELECT wa_id, timestamp, body,
				   ROW_NUMBER() OVER (
					   PARTITION BY wa_id
					   ORDER BY timestamp DESC, created_at DESC, id DESC
				   ) AS rn
			FROM %[1]s
		) l
		WHERE l.rn = 1
		ORDER BY l.timestamp DESC, l.wa_id ASC
	`

	selectMessagesQuery = `
		SELECT id, wa_id, name, type, body, timestamp,
			   direction, status, read, image_url, image_id
		FROM %[1]s
		WHERE wa_id = ?
		ORDER BY timestamp ASC, created_at ASC, id ASC
	`

	markReadQuery = `
		UPDATE %[1]s SET read = ? WHERE wa_id = ? AND direction = ? AND read = ?
	`
)

// Tenant table catalogue, created by migrations.
const (
	claimTableQuery = `
		INSERT INTO tenant_tables (table_name, phone_number_id, provisioned_at)
		VALUES (?, ?, ?)
		ON CONFLICT (table_name) DO NOTHING
	`

	selectTableOwnerQuery = `
		SELECT phone_number_id FROM tenant_tables WHERE table_name = ?
	`
)

// forTable renders a query template against an already validated table name.
func forTable(template, table string) string {
	return fmt.Sprintf(template, table)
}

// rebind rewrites ? placeholders to $n for dialects that need it.
// None of the queries above contain a literal question mark.
func rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
