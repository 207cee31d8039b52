package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/mailplane/mailplane/internal/model"
)

type AdminsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Admin, error)
}

type AdminsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAdminsRepository(db *sqlx.DB) *AdminsRepositoryImpl {
	return &AdminsRepositoryImpl{db: db}
}

var _ AdminsRepository = (*AdminsRepositoryImpl)(nil)

func (r *AdminsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Admin, error) {
	var a model.Admin
	err := r.db.GetContext(ctx, &a, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM admins
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
