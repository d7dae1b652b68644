package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academy-crm-api/internal/models"
)

const leadColumns = "id, organization_id, name, email, phone, instrument, source, notes, stage, original_stage, last_contacted_at, created_by, created_at, updated_at"

// LeadRepository persists pipeline leads. Every query is scoped to one organization.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs a LeadRepository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// List returns the organization's leads newest first, optionally restricted to some stages.
func (r *LeadRepository) List(ctx context.Context, orgID string, filter models.LeadListFilter) ([]models.Lead, error) {
	args := []interface{}{orgID}
	conditions := []string{"organization_id = $1"}

	if len(filter.Stages) > 0 {
		stages := make([]string, len(filter.Stages))
		for i, stage := range filter.Stages {
			stages[i] = string(stage)
		}
		conditions = append(conditions, fmt.Sprintf("stage = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(stages))
	}

	query := fmt.Sprintf("SELECT %s FROM leads WHERE %s ORDER BY created_at DESC", leadColumns, strings.Join(conditions, " AND "))

	leads := make([]models.Lead, 0)
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return leads, nil
}

// Get fetches one lead. It returns sql.ErrNoRows when the lead does not exist in orgID.
func (r *LeadRepository) Get(ctx context.Context, orgID, id string) (*models.Lead, error) {
	query := fmt.Sprintf("SELECT %s FROM leads WHERE organization_id = $1 AND id = $2", leadColumns)
	var lead models.Lead
	if err := r.db.GetContext(ctx, &lead, query, orgID, id); err != nil {
		return nil, err
	}
	return &lead, nil
}

// Insert stores a new lead, assigning its id and timestamps.
func (r *LeadRepository) Insert(ctx context.Context, lead *models.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now

	const query = `INSERT INTO leads (id, organization_id, name, email, phone, instrument, source, notes, stage, original_stage, last_contacted_at, created_by, created_at, updated_at)
        VALUES (:id, :organization_id, :name, :email, :phone, :instrument, :source, :notes, :stage, :original_stage, :last_contacted_at, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, lead); err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// Update applies patch to one lead. It returns sql.ErrNoRows when nothing matched.
func (r *LeadRepository) Update(ctx context.Context, orgID, id string, patch models.LeadPatch) error {
	sets, args := patchAssignments(patch)
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE leads SET %s WHERE organization_id = $%d AND id = $%d",
		strings.Join(sets, ", "), len(args)+1, len(args)+2)
	args = append(args, orgID, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateMany applies the same patch to every id and returns the ids that were actually updated.
func (r *LeadRepository) UpdateMany(ctx context.Context, orgID string, ids []string, patch models.LeadPatch) ([]string, error) {
	sets, args := patchAssignments(patch)
	if len(sets) == 0 || len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("UPDATE leads SET %s WHERE organization_id = $%d AND id = ANY($%d) RETURNING id",
		strings.Join(sets, ", "), len(args)+1, len(args)+2)
	args = append(args, orgID, pq.Array(ids))

	var updated []string
	if err := r.db.SelectContext(ctx, &updated, query, args...); err != nil {
		return nil, fmt.Errorf("update leads: %w", err)
	}
	return updated, nil
}

// Delete removes one lead permanently. It returns sql.ErrNoRows when nothing matched.
func (r *LeadRepository) Delete(ctx context.Context, orgID, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM leads WHERE organization_id = $1 AND id = $2", orgID, id)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lead rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteMany removes every listed lead and returns how many rows went.
func (r *LeadRepository) DeleteMany(ctx context.Context, orgID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM leads WHERE organization_id = $1 AND id = ANY($2)", orgID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete leads: %w", err)
	}
	return res.RowsAffected()
}

// patchAssignments renders the SET list for patch. updated_at is always bumped.
func patchAssignments(patch models.LeadPatch) ([]string, []interface{}) {
	if patch.IsEmpty() {
		return nil, nil
	}

	sets := make([]string, 0, 11)
	args := make([]interface{}, 0, 11)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Instrument != nil {
		add("instrument", *patch.Instrument)
	}
	if patch.Source != nil {
		add("source", string(*patch.Source))
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}
	if patch.Stage != nil {
		add("stage", string(*patch.Stage))
	}
	if patch.ClearOriginalStage {
		sets = append(sets, "original_stage = NULL")
	} else if patch.OriginalStage != nil {
		add("original_stage", string(*patch.OriginalStage))
	}
	if patch.LastContactedAt != nil {
		add("last_contacted_at", patch.LastContactedAt.UTC())
	}
	add("updated_at", time.Now().UTC())

	return sets, args
}
