// Package postgres provides a PostgreSQL implementation of the storage
// interfaces, with pgvector-accelerated candidate lookup when the
// vector extension is available.
package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent.
const Schema = `
-- Entities table: resolved identity clusters
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    occurrence_count INTEGER NOT NULL DEFAULT 0 CHECK (occurrence_count >= 0),
    signature JSONB,
    embedding BYTEA, -- packed little-endian float32 array
    first_seen TIMESTAMP,
    last_seen TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_last_seen ON entities(last_seen DESC);

-- Events table: observation records (ingestion-owned; the core reads
-- and conditionally attaches entity links)
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    camera_id TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    media_ref TEXT NOT NULL DEFAULT '',
    descriptor TEXT NOT NULL DEFAULT '',
    entity_id TEXT REFERENCES entities(id)
);

CREATE INDEX IF NOT EXISTS idx_events_order ON events(occurred_at, id);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);

-- Embeddings table: feature vectors keyed 1:1 to events
CREATE TABLE IF NOT EXISTS embeddings (
    event_id TEXT PRIMARY KEY REFERENCES events(id),
    vec BYTEA NOT NULL, -- packed little-endian float32 array
    dimension INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Adjustment ledger: append-only audit trail of entity-link changes
CREATE TABLE IF NOT EXISTS entity_adjustments (
    id BIGSERIAL PRIMARY KEY,
    event_id TEXT NOT NULL,
    old_entity_id TEXT,
    new_entity_id TEXT,
    action TEXT NOT NULL,
    txn_id TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    snapshot JSONB
);

CREATE INDEX IF NOT EXISTS idx_adjustments_event ON entity_adjustments(event_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_old ON entity_adjustments(old_entity_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_new ON entity_adjustments(new_entity_id);

-- Single-slot reprocessing checkpoint
CREATE TABLE IF NOT EXISTS reprocess_checkpoint (
    slot INTEGER PRIMARY KEY CHECK (slot = 1),
    task_id TEXT NOT NULL,
    status TEXT NOT NULL,
    total INTEGER NOT NULL,
    processed INTEGER NOT NULL,
    entities_matched INTEGER NOT NULL,
    embeddings_generated INTEGER NOT NULL,
    errors INTEGER NOT NULL,
    last_event_id TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);
`

// MigrationPgvector adds the vector column used for cosine-distance
// candidate ordering. Only applied when the vector extension is
// available; safe to run multiple times.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'entities' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE entities ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- ivfflat requires at least one row to exist; guard with a DO block.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_entities_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM entities LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_entities_vec_cosine ON entities USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
