package postgres

// Schema for the bridge database. Everything is idempotent so the
// server can apply it on every startup. Events carry both a UUID (the
// wire identity) and a BIGSERIAL seq that totally orders the log for
// replay cursors.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS registry_roles (
	key         UUID PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	label       TEXT NOT NULL,
	role_class  TEXT NOT NULL DEFAULT 'track',
	sort_order  INTEGER NOT NULL DEFAULT 0,
	protected   BOOLEAN NOT NULL DEFAULT FALSE,
	attributes  JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ix_registry_roles_class ON registry_roles (role_class);

CREATE TABLE IF NOT EXISTS registry_relationship_types (
	key            UUID PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	label          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	directionality TEXT NOT NULL DEFAULT '→',
	protected      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS projects (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	code       TEXT NOT NULL,
	attributes JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT uq_projects_code UNIQUE (code)
);

CREATE TABLE IF NOT EXISTS entities (
	id          UUID PRIMARY KEY,
	entity_type TEXT NOT NULL,
	project_id  UUID REFERENCES projects(id) ON DELETE CASCADE,
	name        TEXT,
	status      TEXT,
	attributes  JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT ck_entities_type CHECK (
		entity_type IN ('sequence','shot','asset','version','media','layer','stack')
	)
);

CREATE INDEX IF NOT EXISTS ix_entities_project_type ON entities (project_id, entity_type);
CREATE INDEX IF NOT EXISTS ix_entities_type_name ON entities (entity_type, name);
CREATE INDEX IF NOT EXISTS ix_entities_attributes ON entities USING GIN (attributes);

CREATE TABLE IF NOT EXISTS locations (
	id           UUID PRIMARY KEY,
	project_id   UUID REFERENCES projects(id) ON DELETE CASCADE,
	entity_id    UUID REFERENCES entities(id) ON DELETE CASCADE,
	path         TEXT NOT NULL,
	storage_type TEXT NOT NULL DEFAULT 'local',
	priority     INTEGER NOT NULL DEFAULT 0,
	present      BOOLEAN,
	attributes   JSONB NOT NULL DEFAULT '{}',
	checked_at   TIMESTAMPTZ,
	CONSTRAINT ck_locations_storage_type CHECK (
		storage_type IN ('local','network','cloud','archive','clip')
	),
	CONSTRAINT ck_locations_owner CHECK (
		(project_id IS NULL) <> (entity_id IS NULL)
	)
);

CREATE INDEX IF NOT EXISTS ix_locations_entity ON locations (entity_id);

CREATE TABLE IF NOT EXISTS relationships (
	id           UUID PRIMARY KEY,
	source_id    UUID NOT NULL,
	target_id    UUID NOT NULL,
	rel_type_key UUID NOT NULL,
	attributes   JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT uq_relationships_edge UNIQUE (source_id, target_id, rel_type_key)
);

CREATE INDEX IF NOT EXISTS ix_relationships_source ON relationships (source_id, rel_type_key);
CREATE INDEX IF NOT EXISTS ix_relationships_target ON relationships (target_id, rel_type_key);

CREATE TABLE IF NOT EXISTS events (
	id          UUID PRIMARY KEY,
	seq         BIGSERIAL,
	event_type  TEXT NOT NULL,
	session_id  UUID,
	client_name TEXT,
	project_id  UUID,
	entity_id   UUID,
	payload     JSONB NOT NULL DEFAULT '{}',
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS ix_events_seq ON events (seq);
CREATE INDEX IF NOT EXISTS ix_events_project_time ON events (project_id, occurred_at);
CREATE INDEX IF NOT EXISTS ix_events_entity_time ON events (entity_id, occurred_at);

CREATE TABLE IF NOT EXISTS sessions (
	id              UUID PRIMARY KEY,
	client_name     TEXT NOT NULL,
	endpoint_type   TEXT NOT NULL DEFAULT 'unknown',
	host            TEXT,
	capabilities    JSONB NOT NULL DEFAULT '{}',
	connected_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	disconnected_at TIMESTAMPTZ,
	last_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
