package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Credential is the encrypted provider token pair for a user. Token columns
// hold ciphertext; only the credential manager touches plaintext.
type Credential struct {
	UserID            int64
	ExternalAthleteID int64
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UpsertCredential creates or replaces a user's credential
func (d *DB) UpsertCredential(c *Credential) error {
	now := time.Now()
	c.UpdatedAt = now

	_, err := d.conn.Exec(`
		INSERT INTO credentials (user_id, external_athlete_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			external_athlete_id = excluded.external_athlete_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, c.UserID, c.ExternalAthleteID, c.AccessToken, c.RefreshToken,
		unixOrNil(c.ExpiresAt), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential retrieves a user's credential. Returns nil if not connected.
func (d *DB) GetCredential(userID int64) (*Credential, error) {
	return d.scanCredentialRow(d.conn.QueryRow(`
		SELECT user_id, external_athlete_id, access_token, refresh_token, expires_at, created_at, updated_at
		FROM credentials WHERE user_id = ?
	`, userID))
}

// GetCredentialByAthleteID retrieves the credential linked to an external
// athlete id. Returns nil if no user is linked.
func (d *DB) GetCredentialByAthleteID(athleteID int64) (*Credential, error) {
	return d.scanCredentialRow(d.conn.QueryRow(`
		SELECT user_id, external_athlete_id, access_token, refresh_token, expires_at, created_at, updated_at
		FROM credentials WHERE external_athlete_id = ?
	`, athleteID))
}

// UpdateCredentialTokens persists a refreshed token pair
func (d *DB) UpdateCredentialTokens(userID int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	result, err := d.conn.Exec(`
		UPDATE credentials
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`, accessToken, refreshToken, unixOrNil(expiresAt), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("failed to update credential tokens: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential not found for user %d", userID)
	}
	return nil
}

// DeleteCredential removes a user's credential (disconnect)
func (d *DB) DeleteCredential(userID int64) error {
	_, err := d.conn.Exec(`DELETE FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (d *DB) scanCredentialRow(row *sql.Row) (*Credential, error) {
	var c Credential
	var expiresAt *int64
	var createdAt, updatedAt int64
	err := row.Scan(&c.UserID, &c.ExternalAthleteID, &c.AccessToken, &c.RefreshToken,
		&expiresAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	c.ExpiresAt = nullableTime(expiresAt)
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}
