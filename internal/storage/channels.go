package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// ChannelStorage manages push-channel rows. The partial unique index
// idx_channels_one_active enforces the single-active-channel invariant at the
// store, not in application code.
type ChannelStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewChannelStorage creates a channel storage instance.
func NewChannelStorage(db *sql.DB, logger arbor.ILogger) *ChannelStorage {
	return &ChannelStorage{db: db, logger: logger}
}

const channelColumns = `tenant_id, calendar_id, channel_id, resource_id, channel_token,
	sync_token, expiration_ms, status, created_at, updated_at`

func scanChannel(row interface{ Scan(...any) error }) (*models.PushChannel, error) {
	var (
		ch                   models.PushChannel
		status               string
		createdMS, updatedMS int64
	)
	err := row.Scan(&ch.TenantID, &ch.CalendarID, &ch.ChannelID, &ch.ResourceID, &ch.ChannelToken,
		&ch.SyncToken, &ch.ExpirationMS, &status, &createdMS, &updatedMS)
	if err != nil {
		return nil, err
	}
	ch.Status = models.ChannelStatus(status)
	ch.CreatedAt = time.UnixMilli(createdMS)
	ch.UpdatedAt = time.UnixMilli(updatedMS)
	return &ch, nil
}

// Create inserts a new channel row. Inserting a second active row for the
// same calendar violates the unique index and fails; callers retire the old
// channel first.
func (s *ChannelStorage) Create(ctx context.Context, ch *models.PushChannel) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_channels (`+channelColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ch.TenantID, ch.CalendarID, ch.ChannelID, ch.ResourceID, ch.ChannelToken,
		ch.SyncToken, ch.ExpirationMS, string(ch.Status), now, now)
	if err != nil {
		return err
	}
	s.logger.Debug().
		Str("channel_id", ch.ChannelID).
		Str("calendar_id", ch.CalendarID).
		Msg("Push channel created")
	return nil
}

// GetByChannelID returns the channel row or interfaces.ErrNotFound.
func (s *ChannelStorage) GetByChannelID(ctx context.Context, tenantID, channelID string) (*models.PushChannel, error) {
	ch, err := scanChannel(s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM push_channels WHERE tenant_id = $1 AND channel_id = $2`,
		tenantID, channelID))
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	return ch, err
}

// GetActive returns the single active channel for (tenant, calendar), or
// interfaces.ErrNoActiveChannel.
func (s *ChannelStorage) GetActive(ctx context.Context, tenantID, calendarID string) (*models.PushChannel, error) {
	ch, err := scanChannel(s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM push_channels
		 WHERE tenant_id = $1 AND calendar_id = $2 AND status = 'active'`,
		tenantID, calendarID))
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNoActiveChannel
	}
	return ch, err
}

// ListExpiring returns active channels expiring before the deadline.
func (s *ChannelStorage) ListExpiring(ctx context.Context, tenantID string, deadline time.Time) ([]*models.PushChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM push_channels
		 WHERE tenant_id = $1 AND status = 'active' AND expiration_ms > 0 AND expiration_ms < $2
		 ORDER BY expiration_ms`,
		tenantID, deadline.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*models.PushChannel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// SetSyncToken writes the token onto the currently-active row of the
// calendar. Pings for a retired channel can still complete their sync; the
// token lands on whichever channel is active now, last writer wins.
func (s *ChannelStorage) SetSyncToken(ctx context.Context, tenantID, calendarID, syncToken string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE push_channels SET sync_token = $1, updated_at = $2
		 WHERE tenant_id = $3 AND calendar_id = $4 AND status = 'active'`,
		syncToken, time.Now().UnixMilli(), tenantID, calendarID)
	return err
}

// SetSyncTokenByChannelID writes the token onto one specific row regardless
// of status. Used to seed a fresh channel during start and replacement.
func (s *ChannelStorage) SetSyncTokenByChannelID(ctx context.Context, tenantID, channelID, syncToken string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE push_channels SET sync_token = $1, updated_at = $2
		 WHERE tenant_id = $3 AND channel_id = $4`,
		syncToken, time.Now().UnixMilli(), tenantID, channelID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (s *ChannelStorage) setStatus(ctx context.Context, tenantID, channelID string, status models.ChannelStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE push_channels SET status = $1, updated_at = $2
		 WHERE tenant_id = $3 AND channel_id = $4`,
		string(status), time.Now().UnixMilli(), tenantID, channelID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// Replace retires the old channel and inserts its successor in a single
// transaction. Readers resolving the active channel see either the old row or
// the new one, never a gap, and the retire-then-insert order inside the
// transaction satisfies the partial unique index.
func (s *ChannelStorage) Replace(ctx context.Context, tenantID, oldChannelID string, newChannel *models.PushChannel) error {
	now := time.Now().UnixMilli()
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE push_channels SET status = $1, updated_at = $2
			 WHERE tenant_id = $3 AND channel_id = $4`,
			string(models.ChannelReplaced), now, tenantID, oldChannelID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO push_channels (`+channelColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			newChannel.TenantID, newChannel.CalendarID, newChannel.ChannelID, newChannel.ResourceID,
			newChannel.ChannelToken, newChannel.SyncToken, newChannel.ExpirationMS,
			string(newChannel.Status), now, now)
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Debug().
		Str("old_channel_id", oldChannelID).
		Str("channel_id", newChannel.ChannelID).
		Msg("Push channel swapped")
	return nil
}

// MarkReplaced retires the channel as superseded by a newer one.
func (s *ChannelStorage) MarkReplaced(ctx context.Context, tenantID, channelID string) error {
	return s.setStatus(ctx, tenantID, channelID, models.ChannelReplaced)
}

// MarkStopped retires the channel without a successor.
func (s *ChannelStorage) MarkStopped(ctx context.Context, tenantID, channelID string) error {
	return s.setStatus(ctx, tenantID, channelID, models.ChannelStopped)
}

// DeleteRetiredBefore removes replaced/stopped rows last touched before the
// cutoff. Returns the number of rows deleted.
func (s *ChannelStorage) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_channels WHERE status IN ('replaced', 'stopped') AND updated_at < $1`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
