// Package catalog serves function metadata from the store. The catalog
// is advisory; execution never depends on it.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/polyrun/polyrun/pkg/errs"
	"github.com/polyrun/polyrun/pkg/models"
)

const (
	defaultPage    = 1
	defaultPerPage = 20
)

// Manager lists and fetches catalog functions.
type Manager struct {
	db *sql.DB
}

func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// List returns functions matching the query, newest first.
func (m *Manager) List(ctx context.Context, q models.FunctionQuery) ([]*models.Function, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, language, title, language_title, description, schema_definition,
			examples, created_at, updated_at, created_by, is_active, version
		FROM meta.functions WHERE 1=1`)

	var params []any
	if q.Language != "" {
		params = append(params, q.Language)
		fmt.Fprintf(&sb, " AND language = $%d", len(params))
	}
	if q.UserID != "" {
		params = append(params, q.UserID)
		fmt.Fprintf(&sb, " AND created_by = $%d", len(params))
	}
	switch q.Type {
	case "predefined":
		sb.WriteString(" AND created_by IS NULL")
	case "dynamic":
		sb.WriteString(" AND created_by IS NOT NULL")
	}

	page := q.Page
	if page < 1 {
		page = defaultPage
	}
	perPage := q.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}

	params = append(params, perPage)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC LIMIT $%d", len(params))
	params = append(params, (page-1)*perPage)
	fmt.Fprintf(&sb, " OFFSET $%d", len(params))

	rows, err := m.db.QueryContext(ctx, sb.String(), params...)
	if err != nil {
		return nil, errs.Wrap(errs.KindStore, err, "failed to list functions")
	}
	defer rows.Close()

	var functions []*models.Function
	for rows.Next() {
		f, err := scanFunction(rows)
		if err != nil {
			return nil, errs.Wrap(errs.KindStore, err, "failed to scan function")
		}
		functions = append(functions, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStore, err, "failed to list functions")
	}

	return functions, nil
}

// Get fetches one function by its language title, script included.
func (m *Manager) Get(ctx context.Context, languageTitle string) (*models.Function, error) {
	const query = `
		SELECT id, language, title, language_title, description, schema_definition,
			examples, created_at, updated_at, created_by, is_active, version, script_content
		FROM meta.functions
		WHERE language_title = $1`

	var (
		f             models.Function
		description   sql.NullString
		schemaDef     []byte
		examples      []byte
		createdBy     sql.NullString
		scriptContent sql.NullString
	)

	err := m.db.QueryRowContext(ctx, query, languageTitle).Scan(
		&f.ID,
		&f.Language,
		&f.Title,
		&f.LanguageTitle,
		&description,
		&schemaDef,
		&examples,
		&f.CreatedAt,
		&f.UpdatedAt,
		&createdBy,
		&f.IsActive,
		&f.Version,
		&scriptContent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("Function %s not found", languageTitle)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStore, err, "failed to get function %s", languageTitle)
	}

	f.SchemaDefinition = json.RawMessage(schemaDef)
	f.Examples = json.RawMessage(examples)
	if description.Valid {
		f.Description = &description.String
	}
	if createdBy.Valid {
		f.CreatedBy = &createdBy.String
	}
	if scriptContent.Valid {
		f.ScriptContent = &scriptContent.String
	}
	return &f, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFunction(row rowScanner) (*models.Function, error) {
	var (
		f           models.Function
		description sql.NullString
		schemaDef   []byte
		examples    []byte
		createdBy   sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(
		&f.ID,
		&f.Language,
		&f.Title,
		&f.LanguageTitle,
		&description,
		&schemaDef,
		&examples,
		&createdAt,
		&updatedAt,
		&createdBy,
		&f.IsActive,
		&f.Version,
	)
	if err != nil {
		return nil, err
	}

	f.CreatedAt = createdAt
	f.UpdatedAt = updatedAt
	f.SchemaDefinition = json.RawMessage(schemaDef)
	f.Examples = json.RawMessage(examples)
	if description.Valid {
		f.Description = &description.String
	}
	if createdBy.Valid {
		f.CreatedBy = &createdBy.String
	}

	return &f, nil
}
