package protocol

// SchemaDDL defines the SQLite schema for the aide runtime database.
// Tables: trust_scores, approvals, activities, reflexions, turns, messages,
// mailbox, calendar_events. Timestamps are unix milliseconds.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Per-(user, agent, action) autonomy ledger
CREATE TABLE IF NOT EXISTS trust_scores (
    id INTEGER PRIMARY KEY,
    user_id TEXT NOT NULL,
    agent_type TEXT NOT NULL,
    action_type TEXT NOT NULL,
    level INTEGER NOT NULL DEFAULT 1 CHECK (level BETWEEN 1 AND 3),
    successful_actions INTEGER NOT NULL DEFAULT 0,
    total_actions INTEGER NOT NULL DEFAULT 0,
    manual_override INTEGER NOT NULL DEFAULT 0,
    last_escalation_at INTEGER,
    last_violation_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (user_id, agent_type, action_type),
    CHECK (successful_actions <= total_actions)
);

-- Human-in-the-loop approval requests; pending is the only non-terminal status
CREATE TABLE IF NOT EXISTS approvals (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    agent_type TEXT NOT NULL,
    action_type TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    timeout_seconds INTEGER NOT NULL,
    turn_token TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    resolved_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_approvals_pending ON approvals(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_approvals_user ON approvals(user_id, status);

-- Append-only activity log: durable counterpart of the live stream
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY,
    user_id TEXT NOT NULL,
    turn_token TEXT NOT NULL DEFAULT '',
    agent_type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activities_user ON activities(user_id, id);

-- Append-only reflexion log: one row per terminal action attempt
CREATE TABLE IF NOT EXISTS reflexions (
    id INTEGER PRIMARY KEY,
    user_id TEXT NOT NULL,
    agent_type TEXT NOT NULL,
    action_type TEXT NOT NULL,
    outcome TEXT NOT NULL,
    approval_id TEXT NOT NULL DEFAULT '',
    turn_token TEXT NOT NULL DEFAULT '',
    critique TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reflexions_triple ON reflexions(user_id, agent_type, action_type, created_at);

-- Suspended turns keyed by correlation token
CREATE TABLE IF NOT EXISTS turns (
    token TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    state BLOB NOT NULL,
    created_at INTEGER NOT NULL
);

-- Conversation history
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

-- Local mailbox backing the default email collaborator
CREATE TABLE IF NOT EXISTS mailbox (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    recipient TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

-- Local calendar backing the default calendar collaborator
CREATE TABLE IF NOT EXISTS calendar_events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    attendees TEXT NOT NULL DEFAULT '[]',
    starts_at INTEGER NOT NULL,
    ends_at INTEGER NOT NULL,
    cancelled INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
`
