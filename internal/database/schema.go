package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Users table: community members reachable through the chat collaborator
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    chat_id INTEGER NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

-- Clubs table: clubs/groups that own activities
CREATE TABLE IF NOT EXISTS clubs (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    chat_id INTEGER,              -- linked channel, optional
    organizer_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,

    FOREIGN KEY (organizer_id) REFERENCES users(id)
);

-- Memberships table: who actively belongs to which club
CREATE TABLE IF NOT EXISTS memberships (
    club_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (club_id, user_id),
    FOREIGN KEY (club_id) REFERENCES clubs(id) ON DELETE CASCADE,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- Activities table: scheduled runs/hikes/rides
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    club_id INTEGER,              -- owning club/group, optional
    creator_id INTEGER NOT NULL,
    title TEXT NOT NULL,

    start_at INTEGER NOT NULL,    -- Unix timestamp
    duration_min INTEGER,         -- NULL means the 60 minute default
    distance_km REAL,

    status TEXT NOT NULL DEFAULT 'upcoming',  -- upcoming|completed|cancelled
    demo BOOLEAN NOT NULL DEFAULT 0,
    summary_sent_at INTEGER,      -- written once by the trainer summary job

    created_at INTEGER NOT NULL,

    FOREIGN KEY (club_id) REFERENCES clubs(id),
    FOREIGN KEY (creator_id) REFERENCES users(id)
);

-- Participations table: (activity, user) registrations and attendance
CREATE TABLE IF NOT EXISTS participations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    activity_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,

    status TEXT NOT NULL DEFAULT 'registered',  -- registered|confirmed|awaiting|attended|missed
    attended INTEGER,             -- tri-state: NULL unknown, 0 no, 1 yes

    -- Training link, attached manually or by the matching pipeline
    link_url TEXT,
    link_source TEXT,             -- manual|external_auto
    external_activity_id INTEGER,
    external_payload TEXT,        -- cached provider JSON

    created_at INTEGER NOT NULL,

    FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

-- Join requests table: pending approvals for clubs and activities
CREATE TABLE IF NOT EXISTS join_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    target_type TEXT NOT NULL,    -- club|activity
    target_id INTEGER NOT NULL,

    status TEXT NOT NULL DEFAULT 'pending',  -- pending|approved|rejected|expired
    expires_at INTEGER,

    created_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(id)
);

-- Post-training notifications table: one row per (activity, user), created
-- when the activity completes
CREATE TABLE IF NOT EXISTS post_training_notifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    activity_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,

    status TEXT NOT NULL DEFAULT 'sent',  -- sent|reminder_sent|link_submitted|not_attended
    sent_at INTEGER NOT NULL,
    responded_at INTEGER,
    reminder_count INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

-- Webhook events table: provider notifications keyed by external activity id
CREATE TABLE IF NOT EXISTS webhook_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,

    external_activity_id INTEGER NOT NULL,
    external_athlete_id INTEGER NOT NULL,

    result TEXT NOT NULL DEFAULT 'processing',  -- processing|matched|no_match|already_linked|not_found|pending_retry|error
    retry_count INTEGER NOT NULL DEFAULT 0,
    next_retry_at INTEGER,
    processing_started_at INTEGER,
    last_error TEXT,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Pending matches table: proposed pairings awaiting human confirmation.
-- Rows are deleted on confirm/reject/expiry, never updated in place.
CREATE TABLE IF NOT EXISTS pending_matches (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    activity_id INTEGER NOT NULL,
    external_activity_id INTEGER NOT NULL,

    confidence TEXT NOT NULL,     -- high|medium
    payload TEXT NOT NULL,        -- cached provider JSON

    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(id),
    FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE
);

-- Credentials table: encrypted provider token pair per user
CREATE TABLE IF NOT EXISTS credentials (
    user_id INTEGER PRIMARY KEY,
    external_athlete_id INTEGER NOT NULL,

    access_token TEXT NOT NULL,   -- encrypted
    refresh_token TEXT NOT NULL,  -- encrypted
    expires_at INTEGER,           -- NULL means expiry unknown

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(id)
);

-- Indexes for activities table
CREATE INDEX IF NOT EXISTS idx_activities_status_start ON activities(status, start_at);
CREATE INDEX IF NOT EXISTS idx_activities_club ON activities(club_id);

-- Indexes for participations table
CREATE UNIQUE INDEX IF NOT EXISTS idx_participations_unique ON participations(activity_id, user_id);
CREATE INDEX IF NOT EXISTS idx_participations_user ON participations(user_id);
CREATE INDEX IF NOT EXISTS idx_participations_status ON participations(activity_id, status);

-- Indexes for join_requests table
CREATE INDEX IF NOT EXISTS idx_join_requests_status ON join_requests(status);
CREATE INDEX IF NOT EXISTS idx_join_requests_target ON join_requests(target_type, target_id);

-- Indexes for post_training_notifications table
CREATE UNIQUE INDEX IF NOT EXISTS idx_ptn_unique ON post_training_notifications(activity_id, user_id);
CREATE INDEX IF NOT EXISTS idx_ptn_due ON post_training_notifications(status, sent_at);

-- Unique constraint: external activity id is the idempotency key
CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_external ON webhook_events(external_activity_id);
CREATE INDEX IF NOT EXISTS idx_webhook_events_retry ON webhook_events(result, next_retry_at);

-- Indexes for pending_matches table
CREATE INDEX IF NOT EXISTS idx_pending_matches_expires ON pending_matches(expires_at);
CREATE INDEX IF NOT EXISTS idx_pending_matches_user ON pending_matches(user_id);

-- Credentials: one internal user per external athlete
CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_athlete ON credentials(external_athlete_id);
`
