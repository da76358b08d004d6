// Package audit records the history of control actions sent to feeders.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sources of an action.
const (
	SourceAPI    = "api"
	SourceMQTT   = "mqtt"
	SourceCLI    = "cli"
	SourceSystem = "system"
)

// Action is one control action and its outcome.
type Action struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Action    string         `json:"action"`
	Source    string         `json:"source"`
	Success   bool           `json:"success"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which actions to return.
type Filter struct {
	DeviceID string // optional: filter by device
	Action   string // optional: filter by action (feed_start, rotate, ...)
	Failed   bool   // only unsuccessful actions
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated action results.
type ListResult struct {
	Actions []Action `json:"actions"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Repository defines the interface for action history operations.
type Repository interface {
	Create(ctx context.Context, a *Action) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores actions in the feeder_actions table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new action history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an action. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, a *Action) error {
	if a.ID == "" {
		a.ID = "act-" + uuid.NewString()[:8]
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var detailsJSON *string
	if a.Details != nil {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("marshalling action details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	success := 0
	if a.Success {
		success = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeder_actions (id, device_id, action, source, success, error_kind, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DeviceID, a.Action, a.Source, success, a.ErrorKind, detailsJSON,
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting feeder action: %w", err)
	}
	return nil
}

// List returns actions matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for history queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Failed {
		conditions = append(conditions, "success = 0")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM feeder_actions %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting feeder actions: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, device_id, action, source, success, error_kind, details, created_at FROM feeder_actions %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feeder actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a Action
		var success int
		var detailsJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Action, &a.Source, &success,
			&a.ErrorKind, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning feeder action: %w", err)
		}

		a.Success = success != 0
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				a.Details = details
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing feeder action timestamp %q: %w", createdAt, err)
		}
		a.CreatedAt = t

		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feeder actions: %w", err)
	}

	return &ListResult{
		Actions: actions,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
