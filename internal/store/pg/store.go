package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter/internal/domain"
	"newsletter/internal/store"
)

const uniqueViolation = "23505"

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

const subscriberColumns = `
	id, email, confirmed, unsubscribed, COALESCE(confirmation_token_hash,''),
	unsubscribe_token, created_at, confirmed_at, unsubscribed_at`

func scanSubscriber(row pgx.Row) (domain.Subscriber, bool, error) {
	var sub domain.Subscriber
	err := row.Scan(&sub.ID, &sub.Email, &sub.Confirmed, &sub.Unsubscribed, &sub.ConfirmTokenHash,
		&sub.UnsubscribeToken, &sub.CreatedAt, &sub.ConfirmedAt, &sub.UnsubscribedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscriber{}, false, nil
		}
		return domain.Subscriber{}, false, err
	}
	return sub, true, nil
}

func (s *Store) GetSubscriberByEmail(ctx context.Context, email string) (domain.Subscriber, bool, error) {
	return scanSubscriber(s.DB.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE lower(email)=lower($1)`, email))
}

func (s *Store) GetSubscriberByID(ctx context.Context, id string) (domain.Subscriber, bool, error) {
	return scanSubscriber(s.DB.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id=$1`, id))
}

func (s *Store) FindSubscriberByTokenHash(ctx context.Context, hash string) (domain.Subscriber, bool, error) {
	return scanSubscriber(s.DB.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE confirmation_token_hash=$1`, hash))
}

func (s *Store) InsertSubscriber(ctx context.Context, sub domain.Subscriber) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO subscribers (id, email, confirmed, unsubscribed, confirmation_token_hash,
		                         unsubscribe_token, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sub.ID, sub.Email, sub.Confirmed, sub.Unsubscribed, nullIfEmpty(sub.ConfirmTokenHash),
		sub.UnsubscribeToken, sub.CreatedAt)
	return mapErr(err)
}

// RotateConfirmToken replaces the pending token hash of an unconfirmed
// subscriber. It reports false once the subscriber is confirmed.
func (s *Store) RotateConfirmToken(ctx context.Context, id, hash string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE subscribers SET confirmation_token_hash=$2
		WHERE id=$1 AND NOT confirmed
	`, id, hash)
	if err != nil {
		return false, mapErr(err)
	}
	return ct.RowsAffected() > 0, nil
}

// ConfirmSubscriber reports false when the subscriber was already confirmed.
// The token hash is kept so a repeated click still resolves.
func (s *Store) ConfirmSubscriber(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE subscribers SET confirmed=TRUE, confirmed_at=$2
		WHERE id=$1 AND NOT confirmed
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) UnsubscribeSubscriber(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE subscribers SET unsubscribed=TRUE, unsubscribed_at=$2
		WHERE id=$1 AND NOT unsubscribed
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// ReactivateSubscriber turns an unsubscribed record straight back into an
// active one. unsubscribed_at is kept as history for the lifecycle trend.
func (s *Store) ReactivateSubscriber(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE subscribers
		SET confirmed=TRUE, unsubscribed=FALSE, confirmed_at=COALESCE(confirmed_at,$2)
		WHERE id=$1 AND unsubscribed
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListEligibleRecipients(ctx context.Context) ([]domain.Recipient, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT s.id, s.email, s.unsubscribe_token
		FROM subscribers s
		WHERE s.confirmed AND NOT s.unsubscribed
		  AND NOT EXISTS (
		      SELECT 1 FROM marketing_preferences p WHERE p.email = lower(s.email) AND NOT p.opted_in
		  )
		ORDER BY s.created_at, s.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.SubscriberID, &r.Email, &r.UnsubscribeToken); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SubscriberCounts(ctx context.Context) (store.SubscriberCounts, error) {
	var c store.SubscriberCounts
	err := s.DB.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE confirmed AND NOT unsubscribed),
		       count(*) FILTER (WHERE NOT confirmed AND NOT unsubscribed),
		       count(*) FILTER (WHERE unsubscribed)
		FROM subscribers
	`).Scan(&c.Total, &c.Confirmed, &c.Unconfirmed, &c.Unsubscribed)
	return c, err
}

func (s *Store) CountSubscribersSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT count(*) FROM subscribers WHERE created_at >= $1`, since).Scan(&n)
	return n, err
}

func (s *Store) ListSubscriberLifecycle(ctx context.Context, since time.Time) ([]store.LifecycleRow, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT created_at, confirmed_at, unsubscribed_at
		FROM subscribers
		WHERE created_at >= $1 OR confirmed_at >= $1 OR unsubscribed_at >= $1
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.LifecycleRow
	for rows.Next() {
		var r store.LifecycleRow
		if err := rows.Scan(&r.CreatedAt, &r.ConfirmedAt, &r.UnsubscribedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SetMarketingPreference(ctx context.Context, in store.MarketingPreference) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO marketing_preferences (email, opted_in, updated_at) VALUES (lower($1),$2,$3)
		ON CONFLICT (email) DO UPDATE SET opted_in=EXCLUDED.opted_in, updated_at=EXCLUDED.updated_at
	`, in.Email, in.OptedIn, in.Now)
	return err
}

const campaignColumns = `
	id, subject, content, status, scheduled_for, sent_at, sent_count, error_log, created_at, updated_at`

func scanCampaign(row pgx.Row) (domain.Campaign, error) {
	var (
		c       domain.Campaign
		status  string
		logJSON []byte
	)
	if err := row.Scan(&c.ID, &c.Subject, &c.Content, &status, &c.ScheduledFor, &c.SentAt, &c.SentCount,
		&logJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Campaign{}, err
	}
	c.Status = domain.CampaignStatus(status)
	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &c.ErrorLog); err != nil {
			return domain.Campaign{}, err
		}
	}
	return c, nil
}

func (s *Store) InsertCampaign(ctx context.Context, c domain.Campaign) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaigns (id, subject, content, status, scheduled_for, sent_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$6)
	`, c.ID, c.Subject, c.Content, string(c.Status), c.ScheduledFor, c.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error) {
	c, err := scanCampaign(s.DB.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Campaign{}, false, nil
		}
		return domain.Campaign{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]domain.Campaign, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `
		SELECT count(*) FROM campaigns WHERE ($1 = '' OR status = $1)
	`, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// UpdateCampaign edits a campaign that has not started sending.
func (s *Store) UpdateCampaign(ctx context.Context, in store.CampaignUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET subject=$2, content=$3, status=$4, scheduled_for=$5, updated_at=$6
		WHERE id=$1 AND status IN ('draft','scheduled')
	`, in.ID, in.Subject, in.Content, string(in.Status), in.ScheduledFor, in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) DeleteCampaign(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM campaigns WHERE id=$1 AND status IN ('draft','scheduled')`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// TransitionCampaign moves a campaign to `to` only while its status is one of
// `from`. A false result means another caller won the race.
func (s *Store) TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, now time.Time) (bool, error) {
	fromStr := make([]string, len(from))
	for i, st := range from {
		fromStr[i] = string(st)
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$3, updated_at=$4
		WHERE id=$1 AND status = ANY($2)
	`, id, fromStr, string(to), now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) CompleteCampaign(ctx context.Context, in store.CampaignResult) (bool, error) {
	var logJSON []byte
	if len(in.ErrorLog) > 0 {
		b, err := json.Marshal(in.ErrorLog)
		if err != nil {
			return false, err
		}
		logJSON = b
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$2, sent_count=$3, error_log=$4, sent_at=$5, updated_at=$5
		WHERE id=$1 AND status='sending'
	`, in.ID, string(in.Status), in.SentCount, logJSON, in.SentAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListDueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status='scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for, id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertCampaignEvent(ctx context.Context, ev domain.CampaignEvent) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaign_events (campaign_id, subscriber_email, event_type, url, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, ev.CampaignID, ev.SubscriberEmail, string(ev.Type), nullIfEmpty(ev.URL), ev.CreatedAt)
	return err
}

func (s *Store) ListCampaignEvents(ctx context.Context, campaignID string) ([]domain.CampaignEvent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT campaign_id, subscriber_email, event_type, COALESCE(url,''), created_at
		FROM campaign_events WHERE campaign_id=$1
		ORDER BY created_at, id
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CampaignEvent
	for rows.Next() {
		var (
			ev domain.CampaignEvent
			t  string
		)
		if err := rows.Scan(&ev.CampaignID, &ev.SubscriberEmail, &t, &ev.URL, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(t)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
