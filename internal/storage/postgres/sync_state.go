package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"sc_archive/internal/domain"
)

type SyncStateStore struct {
	db *sqlx.DB
}

func NewSyncStateStore(db *sqlx.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// Get returns the state of the account, or a zero state if it was never synced.
func (s *SyncStateStore) Get(ctx context.Context, accountID int64) (*domain.SyncState, error) {
	var state domain.SyncState
	query := `
		SELECT id, account_id, last_synced_at, total_changes
		FROM sync_state
		WHERE account_id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &state, query, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SyncState{AccountID: accountID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select sync state: %w", err)
	}
	return &state, nil
}

func (s *SyncStateStore) Update(ctx context.Context, state *domain.SyncState) error {
	query := `
		INSERT INTO sync_state (account_id, last_synced_at, total_changes)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			total_changes = EXCLUDED.total_changes`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		state.AccountID,
		state.LastSyncedAt,
		state.TotalChanges,
	)
	if err != nil {
		return fmt.Errorf("upsert sync state: %w", err)
	}
	return nil
}
