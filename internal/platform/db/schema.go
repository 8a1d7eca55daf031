package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Column describes a single table column.
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	Default    string
}

// Entity describes a table. Relationships are declared separately as edges.
type Entity struct {
	Table   string
	Columns []Column
	Uniques [][]string
	Indexes [][]string
}

// EntityHandle identifies an entity registered in a Schema.
type EntityHandle struct {
	schema *Schema
	index  int
}

// Table returns the table name of the handle.
func (h EntityHandle) Table() string {
	if h.schema == nil || h.index < 0 || h.index >= len(h.schema.entities) {
		return ""
	}
	return h.schema.entities[h.index].Table
}

// Edge is a foreign key from From.Column to To.id.
type Edge struct {
	From     EntityHandle
	Column   string
	To       EntityHandle
	OnDelete string
	Nullable bool
}

// Schema is an ordered arena of entities plus an explicit edge list.
type Schema struct {
	entities []Entity
	edges    []Edge
	errs     []error
}

// NewSchema returns an empty Schema.
func NewSchema() *Schema {
	return &Schema{}
}

// DefineEntity registers an entity and returns its handle.
func (s *Schema) DefineEntity(e Entity) EntityHandle {
	if strings.TrimSpace(e.Table) == "" {
		s.errs = append(s.errs, errors.New("platform/db: entity table name required"))
	}
	for _, existing := range s.entities {
		if existing.Table == e.Table {
			s.errs = append(s.errs, fmt.Errorf("platform/db: entity %q defined twice", e.Table))
		}
	}
	s.entities = append(s.entities, e)
	return EntityHandle{schema: s, index: len(s.entities) - 1}
}

// BelongsTo declares a foreign key column on from referencing to.id.
func (s *Schema) BelongsTo(from EntityHandle, column string, to EntityHandle, onDelete string, nullable bool) {
	s.edges = append(s.edges, Edge{From: from, Column: column, To: to, OnDelete: onDelete, Nullable: nullable})
}

// Join defines a many-to-many join entity between left and right. The pair is unique
// and both sides cascade on delete.
func (s *Schema) Join(table string, left EntityHandle, leftColumn string, right EntityHandle, rightColumn string, extra ...Column) EntityHandle {
	cols := append([]Column{{Name: "id", Type: "BIGSERIAL", PrimaryKey: true}}, extra...)
	h := s.DefineEntity(Entity{
		Table:   table,
		Columns: cols,
		Uniques: [][]string{{leftColumn, rightColumn}},
		Indexes: [][]string{{rightColumn}},
	})
	s.BelongsTo(h, leftColumn, left, "CASCADE", false)
	s.BelongsTo(h, rightColumn, right, "CASCADE", false)
	return h
}

func (s *Schema) valid(h EntityHandle) bool {
	return h.schema == s && h.index >= 0 && h.index < len(s.entities)
}

// Statements renders ordered DDL. An edge may only reference an entity defined at or
// before its owner, so the output applies top to bottom.
func (s *Schema) Statements() ([]string, error) {
	if len(s.errs) > 0 {
		return nil, errors.Join(s.errs...)
	}
	fks := make(map[int][]Edge)
	for _, e := range s.edges {
		if !s.valid(e.From) || !s.valid(e.To) {
			return nil, fmt.Errorf("platform/db: edge %q uses a handle from another schema", e.Column)
		}
		if e.To.index > e.From.index {
			return nil, fmt.Errorf("platform/db: %s.%s references %s defined later", e.From.Table(), e.Column, e.To.Table())
		}
		fks[e.From.index] = append(fks[e.From.index], e)
	}

	var stmts []string
	for i, ent := range s.entities {
		var defs []string
		for _, c := range ent.Columns {
			defs = append(defs, columnDDL(c))
		}
		for _, e := range fks[i] {
			def := fmt.Sprintf("%s BIGINT", e.Column)
			if !e.Nullable {
				def += " NOT NULL"
			}
			def += fmt.Sprintf(" REFERENCES %s(id)", e.To.Table())
			if e.OnDelete != "" {
				def += " ON DELETE " + e.OnDelete
			}
			defs = append(defs, def)
		}
		for _, u := range ent.Uniques {
			defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(u, ", ")))
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", ent.Table, strings.Join(defs, ",\n\t")))
		for _, idx := range ent.Indexes {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
				ent.Table, strings.Join(idx, "_"), ent.Table, strings.Join(idx, ", ")))
		}
	}
	return stmts, nil
}

func columnDDL(c Column) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte(' ')
	b.WriteString(c.Type)
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.NotNull && !c.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// Migrate applies the schema in a single transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool, schema *Schema) error {
	stmts, err := schema.Statements()
	if err != nil {
		return err
	}
	return WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("platform/db: migrate: %w", err)
			}
		}
		return nil
	})
}
