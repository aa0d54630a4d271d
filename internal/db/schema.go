package db

// Parts are stored flat, addressed by (message_id, part_order); the tree is
// rebuilt from part_order/parent_part_order. parent_part_id is the same edge
// resolved to a row id.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rfc822_message_id TEXT NOT NULL UNIQUE,
    subject TEXT NOT NULL DEFAULT '',
    date_sent DATETIME,
    date_received DATETIME NOT NULL,
    in_reply_to TEXT NOT NULL DEFAULT '',
    references_list TEXT NOT NULL DEFAULT '', -- space-separated Message-IDs
    is_read BOOLEAN NOT NULL DEFAULT 0,
    is_replied BOOLEAN NOT NULL DEFAULT 0,
    is_flagged BOOLEAN NOT NULL DEFAULT 0,
    is_forwarded BOOLEAN NOT NULL DEFAULT 0,
    vendor TEXT NOT NULL DEFAULT '',
    folder TEXT NOT NULL DEFAULT '',
    source_location TEXT NOT NULL DEFAULT '',
    indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message_parts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    parent_part_id INTEGER REFERENCES message_parts(id) ON DELETE CASCADE,
    part_order INTEGER NOT NULL CHECK (part_order >= 0),
    parent_part_order INTEGER,
    is_container BOOLEAN NOT NULL DEFAULT 0,
    mime_type TEXT NOT NULL,
    mime_subtype TEXT NOT NULL,
    charset TEXT NOT NULL DEFAULT '',
    filename TEXT NOT NULL DEFAULT '',
    content_id TEXT NOT NULL DEFAULT '',
    content_disposition TEXT NOT NULL DEFAULT '',
    content BLOB,
    is_attachment BOOLEAN NOT NULL DEFAULT 0,
    size_bytes INTEGER NOT NULL DEFAULT 0 CHECK (size_bytes >= 0),
    degraded BOOLEAN NOT NULL DEFAULT 0,
    degraded_reason TEXT NOT NULL DEFAULT '',
    UNIQUE (message_id, part_order)
);

CREATE TABLE IF NOT EXISTS addresses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email_address TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS message_addresses (
    message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    address_id INTEGER NOT NULL REFERENCES addresses(id),
    role TEXT NOT NULL CHECK (role IN ('from', 'to', 'cc', 'bcc')),
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (message_id, address_id, role)
);

CREATE TABLE IF NOT EXISTS message_words (
    message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    word TEXT NOT NULL,
    frequency INTEGER NOT NULL CHECK (frequency >= 1),
    PRIMARY KEY (message_id, word)
);

CREATE TABLE IF NOT EXISTS priority_words (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    word TEXT NOT NULL UNIQUE,
    priority INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 100)
);

CREATE TABLE IF NOT EXISTS priority_persons (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    address_id INTEGER NOT NULL UNIQUE REFERENCES addresses(id) ON DELETE CASCADE,
    priority INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 100)
);

-- Settings table (locator version, last run)
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance
CREATE INDEX IF NOT EXISTS idx_messages_date_received ON messages(date_received DESC);
CREATE INDEX IF NOT EXISTS idx_messages_in_reply_to ON messages(in_reply_to);
CREATE INDEX IF NOT EXISTS idx_message_parts_message_id ON message_parts(message_id);
CREATE INDEX IF NOT EXISTS idx_message_addresses_address ON message_addresses(address_id);
CREATE INDEX IF NOT EXISTS idx_message_addresses_role ON message_addresses(message_id, role, position);
CREATE INDEX IF NOT EXISTS idx_message_words_word ON message_words(word);
`
