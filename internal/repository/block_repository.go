package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acadsys/registrar-api/internal/models"
)

// BlockRepository handles student cohorts.
type BlockRepository struct {
	db *sqlx.DB
}

// NewBlockRepository instantiates a block repository.
func NewBlockRepository(db *sqlx.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// FindByID loads one block.
func (r *BlockRepository) FindByID(ctx context.Context, id string) (*models.Block, error) {
	const query = `SELECT id, code, program_id, year_admitted, status, created_at, updated_at
        FROM blocks WHERE id = $1`
	var block models.Block
	if err := r.db.GetContext(ctx, &block, query, id); err != nil {
		return nil, err
	}
	return &block, nil
}

// ListActiveByProgram returns a program's active cohorts.
func (r *BlockRepository) ListActiveByProgram(ctx context.Context, programID string) ([]models.Block, error) {
	const query = `SELECT id, code, program_id, year_admitted, status, created_at, updated_at
        FROM blocks WHERE program_id = $1 AND status = $2 ORDER BY year_admitted DESC, code`
	var blocks []models.Block
	if err := r.db.SelectContext(ctx, &blocks, query, programID, models.BlockStatusActive); err != nil {
		return nil, fmt.Errorf("list active blocks: %w", err)
	}
	return blocks, nil
}
