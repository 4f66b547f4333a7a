// Package roster syncs the technician roster from its relational system
// of record into the knowledge graph. The roster database owns technician
// records; the graph copy is overwritten on every sync.
package roster

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/log"
)

// Technician is a roster row.
type Technician struct {
	ID                 string
	Name               string
	Role               string
	CertificationLevel string
	Status             string
}

// Sync copies technicians from the roster database into the graph.
type Sync struct {
	DB     *sql.DB
	Graph  kb.GraphStore
	Logger log.Logger
}

// NewSync creates a roster sync.
func NewSync(db *sql.DB, graph kb.GraphStore, logger log.Logger) *Sync {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Sync{DB: db, Graph: graph, Logger: logger}
}

// SeedSchema creates the technicians table if it does not exist.
func (s *Sync) SeedSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS technicians (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			certification_level TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'Active'
		)`)
	if err != nil {
		return fmt.Errorf("seed roster schema: %w", err)
	}
	return nil
}

// Add inserts or replaces a roster row.
func (s *Sync) Add(ctx context.Context, t Technician) error {
	if t.ID == "" || t.Name == "" {
		return fmt.Errorf("technician id and name are required")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO technicians (id, name, role, certification_level, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			certification_level = excluded.certification_level,
			status = excluded.status`,
		t.ID, t.Name, t.Role, t.CertificationLevel, t.Status)
	if err != nil {
		return fmt.Errorf("add technician %s: %w", t.ID, err)
	}
	return nil
}

// Run pushes every roster row into the graph as a Technician entity and
// returns the number of rows synced. The roster is the system of record
// for people, so graph properties are overwritten rather than merged.
// Running twice leaves the graph with the same entity set.
func (s *Sync) Run(ctx context.Context) (int, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, name, role, certification_level, status FROM technicians ORDER BY id")
	if err != nil {
		return 0, fmt.Errorf("load roster: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var t Technician
		if err := rows.Scan(&t.ID, &t.Name, &t.Role, &t.CertificationLevel, &t.Status); err != nil {
			return count, fmt.Errorf("scan roster row: %w", err)
		}

		entity := kb.Entity{
			Key:   t.ID,
			Label: "Technician",
			Name:  t.Name,
			Properties: map[string]any{
				"id":                  t.ID,
				"role":                t.Role,
				"certification_level": t.CertificationLevel,
				"status":              t.Status,
				kb.MetaSource:         "roster",
			},
		}
		if err := s.Graph.SetEntity(ctx, entity); err != nil {
			return count, fmt.Errorf("sync technician %s: %w", t.ID, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("load roster: %w", err)
	}

	s.Logger.Info("roster sync pushed %d technicians to the graph", count)
	return count, nil
}
