package database

import (
	"database/sql"
	"fmt"
	"time"
)

// User is a community member reachable through the chat collaborator
type User struct {
	ID          int64
	ChatID      int64
	DisplayName string
	CreatedAt   time.Time
}

// Club is a club or group that owns activities
type Club struct {
	ID          int64
	Title       string
	ChatID      *int64 // linked channel, optional
	OrganizerID int64
	CreatedAt   time.Time
}

// UpsertUser creates or updates a user record
func (d *DB) UpsertUser(u *User) error {
	now := time.Now().Unix()
	_, err := d.conn.Exec(`
		INSERT INTO users (id, chat_id, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id,
			display_name = excluded.display_name
	`, u.ID, u.ChatID, u.DisplayName, now)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID. Returns nil if not found.
func (d *DB) GetUser(id int64) (*User, error) {
	var u User
	var createdAt int64
	err := d.conn.QueryRow(`
		SELECT id, chat_id, display_name, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.ChatID, &u.DisplayName, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

// UpsertClub creates or updates a club record
func (d *DB) UpsertClub(c *Club) error {
	now := time.Now().Unix()
	_, err := d.conn.Exec(`
		INSERT INTO clubs (id, title, chat_id, organizer_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			chat_id = excluded.chat_id,
			organizer_id = excluded.organizer_id
	`, c.ID, c.Title, c.ChatID, c.OrganizerID, now)
	if err != nil {
		return fmt.Errorf("failed to upsert club: %w", err)
	}
	return nil
}

// GetClub retrieves a club by ID. Returns nil if not found.
func (d *DB) GetClub(id int64) (*Club, error) {
	var c Club
	var createdAt int64
	err := d.conn.QueryRow(`
		SELECT id, title, chat_id, organizer_id, created_at FROM clubs WHERE id = ?
	`, id).Scan(&c.ID, &c.Title, &c.ChatID, &c.OrganizerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get club: %w", err)
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

// AddMembership records that a user actively belongs to a club
func (d *DB) AddMembership(clubID, userID int64) error {
	now := time.Now().Unix()
	_, err := d.conn.Exec(`
		INSERT INTO memberships (club_id, user_id, active, created_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(club_id, user_id) DO UPDATE SET active = 1
	`, clubID, userID, now)
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// DeactivateMembership marks a membership inactive without deleting history
func (d *DB) DeactivateMembership(clubID, userID int64) error {
	_, err := d.conn.Exec(`
		UPDATE memberships SET active = 0 WHERE club_id = ? AND user_id = ?
	`, clubID, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}
	return nil
}
