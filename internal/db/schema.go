package db

// Two kinds of database:
// 1. accounts.db - shared, unencrypted bootstrap data (tokens, wrapped keys)
// 2. {owner_id}.db - per-owner, encrypted with SQLCipher

// AccountsDBSchema contains the SQL statements for the shared accounts database.
const AccountsDBSchema = `
-- Bearer token sessions. Only the SHA-256 of a token is stored.
CREATE TABLE IF NOT EXISTS sessions (
    token_hash TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner_id ON sessions(owner_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

-- Encrypted DEKs for per-owner databases
CREATE TABLE IF NOT EXISTS owner_keys (
    owner_id TEXT PRIMARY KEY,
    kek_version INTEGER NOT NULL DEFAULT 1,
    encrypted_dek BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    rotated_at INTEGER
);
`

// OwnerDBSchema contains the SQL statements for a per-owner database.
// Timestamps are unix milliseconds.
const OwnerDBSchema = `
CREATE TABLE IF NOT EXISTS thoughts (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL DEFAULT '',
    is_draft INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_thoughts_draft_created ON thoughts(is_draft, created_at);

-- Tag names are unique per owner, compared byte-wise (case-sensitive).
CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    color TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS thought_tags (
    thought_id TEXT NOT NULL REFERENCES thoughts(id) ON DELETE CASCADE,
    tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (thought_id, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_thought_tags_tag_id ON thought_tags(tag_id);

-- The owner's outstanding draft. At most one row.
CREATE TABLE IF NOT EXISTS current_draft (
    slot INTEGER PRIMARY KEY CHECK (slot = 1),
    thought_id TEXT NOT NULL REFERENCES thoughts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS profile (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    display_name TEXT NOT NULL DEFAULT '',
    avatar_url TEXT NOT NULL DEFAULT '',
    email_notifications INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL
);
`
