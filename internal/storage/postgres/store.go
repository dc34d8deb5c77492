// Package postgres implements the storage interface on PostgreSQL via
// database/sql with the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/forgeworks/forge-bridge/internal/registry"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/types"
	"github.com/forgeworks/forge-bridge/internal/vocab"
)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema applies the DDL and seeds the protected registry rows.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return s.seedRegistry(ctx)
}

// seedRegistry inserts the standard roles and built-in relationship
// types. ON CONFLICT DO NOTHING preserves renames applied since.
func (s *Store) seedRegistry(ctx context.Context) error {
	defaults := registry.Default()
	for _, name := range defaults.Roles.Names() {
		def, err := defaults.Roles.ByName(name)
		if err != nil {
			return err
		}
		attrs, err := roleAttributes(def.Role)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO registry_roles (key, name, label, role_class, sort_order, protected, attributes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (key) DO NOTHING`,
			def.Key, def.Role.Name, def.Role.Label, roleClass(def.Role),
			def.Role.Order, def.Protected, attrs)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	for _, name := range defaults.RelTypes.Names() {
		def, err := defaults.RelTypes.ByName(name)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO registry_relationship_types (key, name, label, description, directionality, protected)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO NOTHING`,
			def.Key, def.Name, def.Label, def.Description, def.Directionality, def.Protected)
		if err != nil {
			return fmt.Errorf("seed relationship type %s: %w", name, err)
		}
	}
	return nil
}

// RunInTransaction runs fn inside one transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Projects

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, attributes, created_at, updated_at
		FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

func (s *Store) GetProjectByCode(ctx context.Context, code string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, attributes, created_at, updated_at
		FROM projects WHERE code = $1`, code)
	return scanProject(row)
}

func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, attributes, created_at, updated_at
		FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Entities

func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, project_id, name, status, attributes, created_at, updated_at
		FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadLocations(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) ListEntities(ctx context.Context, entityType types.EntityType, projectID *uuid.UUID) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, project_id, name, status, attributes, created_at, updated_at
		FROM entities
		WHERE entity_type = $1 AND ($2::uuid IS NULL OR project_id = $2)
		ORDER BY name, created_at`,
		string(entityType), nullUUID(projectID))
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return s.collectEntities(ctx, rows)
}

func (s *Store) FindEntitiesByAttributes(ctx context.Context, entityType types.EntityType, filter map[string]any) ([]*types.Entity, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode attribute filter: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, project_id, name, status, attributes, created_at, updated_at
		FROM entities
		WHERE entity_type = $1 AND attributes @> $2::jsonb
		ORDER BY name, created_at`,
		string(entityType), filterJSON)
	if err != nil {
		return nil, fmt.Errorf("find entities by attributes: %w", err)
	}
	return s.collectEntities(ctx, rows)
}

func (s *Store) collectEntities(ctx context.Context, rows *sql.Rows) ([]*types.Entity, error) {
	defer rows.Close()
	var entities []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, e := range entities {
		if err := s.loadLocations(ctx, e); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

func (s *Store) loadLocations(ctx context.Context, e *types.Entity) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, storage_type, present, priority, attributes, checked_at
		FROM locations WHERE entity_id = $1
		ORDER BY priority DESC, path`, e.ID)
	if err != nil {
		return fmt.Errorf("load locations: %w", err)
	}
	defer rows.Close()

	e.Locations = nil
	for rows.Next() {
		var (
			loc         types.Location
			storageType string
			present     sql.NullBool
			attrsRaw    []byte
			checkedAt   sql.NullTime
		)
		if err := rows.Scan(&loc.Path, &storageType, &present, &loc.Priority, &attrsRaw, &checkedAt); err != nil {
			return fmt.Errorf("scan location: %w", err)
		}
		loc.StorageType = types.StorageType(storageType)
		if present.Valid {
			v := present.Bool
			loc.Present = &v
		}
		if checkedAt.Valid {
			t := checkedAt.Time
			loc.CheckedAt = &t
		}
		if err := json.Unmarshal(attrsRaw, &loc.Attributes); err != nil {
			return fmt.Errorf("decode location attributes: %w", err)
		}
		e.Locations = append(e.Locations, loc)
	}
	return rows.Err()
}

// Graph

func (s *Store) ListRelationships(ctx context.Context) ([]types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, rel_type_key, attributes, created_at
		FROM relationships ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var rels []types.Relationship
	for rows.Next() {
		var (
			rel      types.Relationship
			attrsRaw []byte
		)
		if err := rows.Scan(&rel.Source, &rel.Target, &rel.RelTypeKey, &attrsRaw, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		if err := json.Unmarshal(attrsRaw, &rel.Attributes); err != nil {
			return nil, fmt.Errorf("decode relationship attributes: %w", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func (s *Store) Dependents(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error) {
	return s.edgeEndpoints(ctx, `
		SELECT DISTINCT source_id FROM relationships WHERE target_id = $1`, entityID)
}

func (s *Store) Dependencies(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error) {
	return s.edgeEndpoints(ctx, `
		SELECT DISTINCT target_id FROM relationships WHERE source_id = $1`, entityID)
}

func (s *Store) edgeEndpoints(ctx context.Context, query string, entityID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Events

func (s *Store) RecentEvents(ctx context.Context, filter storage.EventFilter) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, event_type, session_id, client_name, project_id, entity_id, payload, occurred_at
		FROM events
		WHERE ($1::uuid IS NULL OR project_id = $1)
		  AND ($2::uuid IS NULL OR entity_id = $2)
		ORDER BY seq DESC
		LIMIT $3`,
		nullUUID(filter.ProjectID), nullUUID(filter.EntityID), filter.Clamp())
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return collectEvents(rows)
}

// EventsSince anchors on the cursor event's seq. An unknown cursor
// makes the subquery NULL, the comparison false, and the result empty.
func (s *Store) EventsSince(ctx context.Context, cursor uuid.UUID) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, event_type, session_id, client_name, project_id, entity_id, payload, occurred_at
		FROM events
		WHERE seq > (SELECT seq FROM events WHERE id = $1)
		ORDER BY seq ASC`, cursor)
	if err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*types.Event, error) {
	defer rows.Close()
	events := []*types.Event{}
	for rows.Next() {
		var (
			ev         types.Event
			sessionID  uuid.NullUUID
			clientName sql.NullString
			projectID  uuid.NullUUID
			entityID   uuid.NullUUID
			payloadRaw []byte
		)
		err := rows.Scan(&ev.ID, &ev.Seq, &ev.Type, &sessionID, &clientName,
			&projectID, &entityID, &payloadRaw, &ev.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if sessionID.Valid {
			id := sessionID.UUID
			ev.SessionID = &id
		}
		ev.ClientName = clientName.String
		if projectID.Valid {
			id := projectID.UUID
			ev.ProjectID = &id
		}
		if entityID.Valid {
			id := entityID.UUID
			ev.EntityID = &id
		}
		if err := json.Unmarshal(payloadRaw, &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Registry

// LoadRegistry rebuilds the in-memory registry from the persisted
// rows. Keys and protected flags restore exactly, so renamed built-ins
// come back under their current names.
func (s *Store) LoadRegistry(ctx context.Context) (*registry.Registry, error) {
	reg := registry.New()

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, name, label, sort_order, protected, attributes
		FROM registry_roles ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key       uuid.UUID
			name      string
			label     string
			order     int
			protected bool
			attrsRaw  []byte
		)
		if err := rows.Scan(&key, &name, &label, &order, &protected, &attrsRaw); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		role, err := roleFromAttributes(name, label, order, attrsRaw)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", name, err)
		}
		if _, err := reg.Roles.Register(name, registry.RoleSpec{Role: role, Key: key, Protected: protected}); err != nil {
			return nil, fmt.Errorf("register role %s: %w", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	relRows, err := s.db.QueryContext(ctx, `
		SELECT key, name, label, description, directionality, protected
		FROM registry_relationship_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load relationship types: %w", err)
	}
	defer relRows.Close()
	for relRows.Next() {
		var (
			key                                       uuid.UUID
			name, label, description, directionality string
			protected                                 bool
		)
		if err := relRows.Scan(&key, &name, &label, &description, &directionality, &protected); err != nil {
			return nil, fmt.Errorf("scan relationship type: %w", err)
		}
		_, err := reg.RelTypes.Register(name, registry.RelTypeSpec{
			Label:          label,
			Description:    description,
			Directionality: directionality,
			Key:            key,
			Protected:      protected,
		})
		if err != nil {
			return nil, fmt.Errorf("register relationship type %s: %w", name, err)
		}
	}
	return reg, relRows.Err()
}

// Sessions

func (s *Store) ActiveSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_name, endpoint_type, host, capabilities, connected_at, disconnected_at, last_seen_at
		FROM sessions WHERE disconnected_at IS NULL
		ORDER BY connected_at`)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		var (
			sess         types.Session
			host         sql.NullString
			capsRaw      []byte
			disconnected sql.NullTime
		)
		err := rows.Scan(&sess.ID, &sess.ClientName, &sess.EndpointType, &host,
			&capsRaw, &sess.ConnectedAt, &disconnected, &sess.LastSeenAt)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Host = host.String
		if disconnected.Valid {
			t := disconnected.Time
			sess.DisconnectedAt = &t
		}
		if err := json.Unmarshal(capsRaw, &sess.Capabilities); err != nil {
			return nil, fmt.Errorf("decode session capabilities: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// pgTx implements storage.Tx on one *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*pgTx)(nil)

func (t *pgTx) SaveProject(ctx context.Context, p *types.Project) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("encode project attributes: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, code, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			code = EXCLUDED.code,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Code, attrs, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("project code %q: %w", p.Code, storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteProject(ctx context.Context, id uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res)
}

func (t *pgTx) SaveEntity(ctx context.Context, e *types.Entity) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("encode entity attributes: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO entities (id, entity_type, project_id, name, status, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at`,
		e.ID, string(e.Type), nullUUID(e.ProjectID), e.Name, e.Status, attrs, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save entity: %w", err)
	}

	// Locations are replaced wholesale; the entity struct is the source
	// of truth for the full set.
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM locations WHERE entity_id = $1`, e.ID); err != nil {
		return fmt.Errorf("clear locations: %w", err)
	}
	for _, loc := range e.Locations {
		locAttrs, err := json.Marshal(orEmpty(loc.Attributes))
		if err != nil {
			return fmt.Errorf("encode location attributes: %w", err)
		}
		var present sql.NullBool
		if loc.Present != nil {
			present = sql.NullBool{Bool: *loc.Present, Valid: true}
		}
		var checkedAt sql.NullTime
		if loc.CheckedAt != nil {
			checkedAt = sql.NullTime{Time: *loc.CheckedAt, Valid: true}
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO locations (id, entity_id, path, storage_type, priority, present, attributes, checked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New(), e.ID, loc.Path, string(loc.StorageType), loc.Priority, present, locAttrs, checkedAt)
		if err != nil {
			return fmt.Errorf("save location %s: %w", loc.Path, err)
		}
	}
	return nil
}

func (t *pgTx) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM relationships WHERE source_id = $1 OR target_id = $1`, id); err != nil {
		return fmt.Errorf("delete entity edges: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	return requireRow(res)
}

func (t *pgTx) SaveRelationship(ctx context.Context, rel types.Relationship) error {
	attrs, err := json.Marshal(orEmpty(rel.Attributes))
	if err != nil {
		return fmt.Errorf("encode relationship attributes: %w", err)
	}
	createdAt := rel.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO relationships (id, source_id, target_id, rel_type_key, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_id, target_id, rel_type_key) DO UPDATE SET
			attributes = EXCLUDED.attributes`,
		uuid.New(), rel.Source, rel.Target, rel.RelTypeKey, attrs, createdAt)
	if err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteRelationship(ctx context.Context, source, target, relTypeKey uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM relationships
		WHERE source_id = $1 AND target_id = $2 AND rel_type_key = $3`,
		source, target, relTypeKey)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return requireRow(res)
}

func (t *pgTx) UpdateEntityRoleKeys(ctx context.Context, moves []registry.Migration) error {
	for _, m := range moves {
		_, err := t.tx.ExecContext(ctx, `
			UPDATE entities
			SET attributes = jsonb_set(attributes, '{role_key}', to_jsonb($1::text)),
			    updated_at = now()
			WHERE id = $2`,
			m.NewKey.String(), m.Holder)
		if err != nil {
			return fmt.Errorf("migrate role key for %s: %w", m.Holder, err)
		}
	}
	return nil
}

func (t *pgTx) UpdateRelationshipTypeKeys(ctx context.Context, moves []registry.EdgeMigration) error {
	for _, m := range moves {
		// If the edge already exists under the new key, drop the old
		// row instead of colliding with the unique constraint.
		res, err := t.tx.ExecContext(ctx, `
			UPDATE relationships SET rel_type_key = $1
			WHERE source_id = $2 AND target_id = $3 AND rel_type_key = $4
			  AND NOT EXISTS (
				SELECT 1 FROM relationships
				WHERE source_id = $2 AND target_id = $3 AND rel_type_key = $1
			  )`,
			m.NewKey, m.Edge.Source, m.Edge.Target, m.OldKey)
		if err != nil {
			return fmt.Errorf("migrate relationship type key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = t.tx.ExecContext(ctx, `
				DELETE FROM relationships
				WHERE source_id = $1 AND target_id = $2 AND rel_type_key = $3`,
				m.Edge.Source, m.Edge.Target, m.OldKey)
			if err != nil {
				return fmt.Errorf("drop superseded relationship: %w", err)
			}
		}
	}
	return nil
}

func (t *pgTx) SaveRole(ctx context.Context, def *registry.RoleDefinition) error {
	attrs, err := roleAttributes(def.Role)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO registry_roles (key, name, label, role_class, sort_order, protected, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			label = EXCLUDED.label,
			role_class = EXCLUDED.role_class,
			sort_order = EXCLUDED.sort_order,
			attributes = EXCLUDED.attributes,
			updated_at = now()`,
		def.Key, def.Role.Name, def.Role.Label, roleClass(def.Role),
		def.Role.Order, def.Protected, attrs)
	if isUniqueViolation(err) {
		return fmt.Errorf("role name %q: %w", def.Role.Name, storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("save role: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteRole(ctx context.Context, key uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM registry_roles WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return requireRow(res)
}

func (t *pgTx) SaveRelationshipType(ctx context.Context, def *registry.RelTypeDef) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO registry_relationship_types (key, name, label, description, directionality, protected)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			label = EXCLUDED.label,
			description = EXCLUDED.description,
			directionality = EXCLUDED.directionality`,
		def.Key, def.Name, def.Label, def.Description, def.Directionality, def.Protected)
	if isUniqueViolation(err) {
		return fmt.Errorf("relationship type name %q: %w", def.Name, storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("save relationship type: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteRelationshipType(ctx context.Context, key uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM registry_relationship_types WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete relationship type: %w", err)
	}
	return requireRow(res)
}

func (t *pgTx) AppendEvent(ctx context.Context, ev *types.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	payload, err := json.Marshal(orEmpty(ev.Payload))
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO events (id, event_type, session_id, client_name, project_id, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, occurred_at`,
		ev.ID, ev.Type, nullUUID(ev.SessionID), ev.ClientName,
		nullUUID(ev.ProjectID), nullUUID(ev.EntityID), payload)
	if err := row.Scan(&ev.Seq, &ev.OccurredAt); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (t *pgTx) OpenSession(ctx context.Context, sess *types.Session) error {
	caps, err := json.Marshal(orEmpty(sess.Capabilities))
	if err != nil {
		return fmt.Errorf("encode session capabilities: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO sessions (id, client_name, endpoint_type, host, capabilities, connected_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		sess.ID, sess.ClientName, sess.EndpointType, sess.Host, caps, sess.ConnectedAt)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

func (t *pgTx) CloseSession(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET disconnected_at = now(), last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (t *pgTx) TouchSession(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Row scanning helpers.

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*types.Project, error) {
	var (
		p        types.Project
		attrsRaw []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Code, &attrsRaw, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if err := json.Unmarshal(attrsRaw, &p.Attributes); err != nil {
		return nil, fmt.Errorf("decode project attributes: %w", err)
	}
	return &p, nil
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var (
		e          types.Entity
		entityType string
		projectID  uuid.NullUUID
		name       sql.NullString
		status     sql.NullString
		attrsRaw   []byte
	)
	err := row.Scan(&e.ID, &entityType, &projectID, &name, &status, &attrsRaw, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	e.Type = types.EntityType(entityType)
	if projectID.Valid {
		id := projectID.UUID
		e.ProjectID = &id
	}
	e.Name = name.String
	e.Status = status.String
	if err := json.Unmarshal(attrsRaw, &e.Attributes); err != nil {
		return nil, fmt.Errorf("decode entity attributes: %w", err)
	}
	return &e, nil
}

// roleAttributes packs the non-column role fields into the attributes
// JSONB: path template, endpoint aliases, free-form metadata.
func roleAttributes(role *vocab.Role) ([]byte, error) {
	raw, err := json.Marshal(map[string]any{
		"path_template": role.PathTemplate,
		"aliases":       role.Aliases,
		"metadata":      role.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode role attributes: %w", err)
	}
	return raw, nil
}

func roleFromAttributes(name, label string, order int, raw []byte) (*vocab.Role, error) {
	var attrs struct {
		PathTemplate string            `json:"path_template"`
		Aliases      map[string]string `json:"aliases"`
		Metadata     map[string]any    `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decode role attributes: %w", err)
	}
	role := vocab.NewRole(name)
	role.Label = label
	role.Order = order
	role.PathTemplate = attrs.PathTemplate
	for k, v := range attrs.Aliases {
		role.Aliases[k] = v
	}
	for k, v := range attrs.Metadata {
		role.Metadata[k] = v
	}
	return role, nil
}

func roleClass(role *vocab.Role) string {
	if c := role.Aliases["role_class"]; c != "" {
		return c
	}
	return "track"
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
