package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/types"
)

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db    *sql.DB
	locks *KeyedMutex
	now   func() time.Time
}

// NewSQLiteStore creates a new SQLite state store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// _journal_mode=WAL: concurrent readers alongside a single writer
	// _busy_timeout=5000: writers wait for the lock instead of failing
	// _txlock=immediate: transactions take the write lock on BEGIN
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.NewTransientf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:    db,
		locks: NewKeyedMutex(),
		now:   time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPermanentf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		package_name TEXT NOT NULL,
		version TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		indicators_json TEXT NOT NULL,
		project_ids_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		issuer TEXT NOT NULL,
		package_name TEXT NOT NULL,
		version TEXT NOT NULL,
		incident_id TEXT NOT NULL DEFAULT '',
		issued_at INTEGER NOT NULL,
		expires_at INTEGER,
		body TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS releases (
		package_name TEXT NOT NULL,
		version TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		scanned_at INTEGER NOT NULL,
		PRIMARY KEY (package_name, version)
	);

	CREATE TABLE IF NOT EXISTS patch_plans (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL UNIQUE,
		package_name TEXT NOT NULL,
		current_version TEXT NOT NULL,
		recommended_version TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		steps_json TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_package ON incidents(package_name, version);
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
	CREATE INDEX IF NOT EXISTS idx_credentials_package ON credentials(package_name, version);
	CREATE INDEX IF NOT EXISTS idx_credentials_incident ON credentials(incident_id);
	CREATE INDEX IF NOT EXISTS idx_credentials_type ON credentials(type);
	`

	_, err := s.db.Exec(schema)
	return err
}

func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateIncident inserts a new incident
func (s *SQLiteStore) CreateIncident(ctx context.Context, inc *types.Incident) error {
	if err := validateIncident(inc); err != nil {
		return err
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.now().UTC()
	}
	if inc.UpdatedAt.IsZero() {
		inc.UpdatedAt = inc.CreatedAt
	}

	indicatorsJSON, err := json.Marshal(nonNilIndicators(inc.Indicators))
	if err != nil {
		return errors.NewPermanentf("failed to marshal indicators: %w", err)
	}
	projectsJSON, err := json.Marshal(nonNilStrings(inc.ProjectIDs))
	if err != nil {
		return errors.NewPermanentf("failed to marshal project ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, package_name, version, title, description, severity, status,
			indicators_json, project_ids_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inc.ID, inc.PackageName, inc.Version, inc.Title, inc.Description, string(inc.Severity), string(inc.Status),
		string(indicatorsJSON), string(projectsJSON), toUnixNano(inc.CreatedAt), toUnixNano(inc.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return errors.NewConflictf("incident %s already exists", inc.ID)
	}
	if err != nil {
		return errors.NewTransientf("failed to insert incident: %w", err)
	}
	return nil
}

const incidentColumns = `id, package_name, version, title, description, severity, status,
	indicators_json, project_ids_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*types.Incident, error) {
	var inc types.Incident
	var severity, status, indicatorsJSON, projectsJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&inc.ID, &inc.PackageName, &inc.Version, &inc.Title, &inc.Description, &severity, &status,
		&indicatorsJSON, &projectsJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	inc.Severity = types.Severity(severity)
	inc.Status = types.IncidentStatus(status)
	inc.CreatedAt = fromUnixNano(createdAt)
	inc.UpdatedAt = fromUnixNano(updatedAt)

	if err := json.Unmarshal([]byte(indicatorsJSON), &inc.Indicators); err != nil {
		return nil, errors.NewPermanentf("failed to unmarshal indicators of %s: %w", inc.ID, err)
	}
	if err := json.Unmarshal([]byte(projectsJSON), &inc.ProjectIDs); err != nil {
		return nil, errors.NewPermanentf("failed to unmarshal project ids of %s: %w", inc.ID, err)
	}
	return &inc, nil
}

// GetIncident retrieves an incident with its credential ids
func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (*types.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundf("incident %s", id)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query incident: %w", err)
	}

	ids, err := s.credentialIDsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	inc.CredentialIDs = ids
	return inc, nil
}

func (s *SQLiteStore) credentialIDsFor(ctx context.Context, incidentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM credentials WHERE incident_id = ? ORDER BY seq`, incidentID)
	if err != nil {
		return nil, errors.NewTransientf("failed to query credential ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewTransientf("failed to scan credential id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating credential ids: %w", err)
	}
	return ids, nil
}

// FindOpenIncident returns the newest detected or verified incident
func (s *SQLiteStore) FindOpenIncident(ctx context.Context, packageName, version string) (*types.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE package_name = ? AND version = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, packageName, version, string(types.StatusDetected), string(types.StatusVerified)))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundf("no open incident for %s", types.PackageKey(packageName, version))
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query open incident: %w", err)
	}
	return inc, nil
}

// UpdateIncidentStatus applies a forward-only status change. Writes for one
// incident are serialised in process by a keyed mutex and across processes
// by the compare-and-set UPDATE.
func (s *SQLiteStore) UpdateIncidentStatus(ctx context.Context, id string, status types.IncidentStatus) (*types.Incident, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM incidents WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundf("incident %s", id)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query incident status: %w", err)
	}

	noop, err := checkTransition(id, types.IncidentStatus(current), status)
	if err != nil {
		return nil, err
	}
	if !noop {
		result, err := tx.ExecContext(ctx, `
			UPDATE incidents SET status = ?, updated_at = ? WHERE id = ? AND status = ?
		`, string(status), toUnixNano(s.now()), id, current)
		if err != nil {
			return nil, errors.NewTransientf("failed to update incident status: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, errors.NewTransientf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return nil, errors.NewConflictf("incident %s changed concurrently", id)
		}
		if err := tx.Commit(); err != nil {
			return nil, errors.NewTransientf("failed to commit transaction: %w", err)
		}
	}

	return s.GetIncident(ctx, id)
}

// QueryIncidents lists incidents matching filter, oldest first
func (s *SQLiteStore) QueryIncidents(ctx context.Context, filter IncidentFilter) ([]*types.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []interface{}{}

	if filter.PackageName != "" {
		query += " AND package_name = ?"
		args = append(args, filter.PackageName)
	}
	if filter.Version != "" {
		query += " AND version = ?"
		args = append(args, filter.Version)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_at, id LIMIT ? OFFSET ?"
	args = append(args, effectiveLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*types.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, errors.NewTransientf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating incidents: %w", err)
	}
	return incidents, nil
}

// AppendCredential stores the credential JSON as issued
func (s *SQLiteStore) AppendCredential(ctx context.Context, c *credential.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	body, err := json.Marshal(c)
	if err != nil {
		return errors.NewPermanentf("failed to marshal credential %s: %w", c.ID, err)
	}

	var expiresAt sql.NullInt64
	if c.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: toUnixNano(*c.ExpiresAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (
			id, type, issuer, package_name, version, incident_id, issued_at, expires_at, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, string(c.Type), c.IssuerIdentity, c.Subject.PackageName, c.Subject.Version, c.Subject.IncidentID,
		toUnixNano(c.IssuedAt), expiresAt, string(body),
	)
	if isUniqueViolation(err) {
		return errors.NewConflictf("credential %s already exists", c.ID)
	}
	if err != nil {
		return errors.NewTransientf("failed to insert credential: %w", err)
	}
	return nil
}

func decodeCredential(body string) (*credential.Credential, error) {
	var c credential.Credential
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, errors.NewPermanentf("failed to unmarshal credential: %w", err)
	}
	return &c, nil
}

// GetCredential retrieves a credential by id
func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*credential.Credential, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM credentials WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundf("credential %s", id)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query credential: %w", err)
	}
	return decodeCredential(body)
}

// QueryCredentials lists credentials matching filter in append order
func (s *SQLiteStore) QueryCredentials(ctx context.Context, filter CredentialFilter) ([]*credential.Credential, error) {
	query := `SELECT body FROM credentials WHERE 1=1`
	args := []interface{}{}

	if filter.PackageName != "" {
		query += " AND package_name = ?"
		args = append(args, filter.PackageName)
	}
	if filter.Version != "" {
		query += " AND version = ?"
		args = append(args, filter.Version)
	}
	if filter.IncidentID != "" {
		query += " AND incident_id = ?"
		args = append(args, filter.IncidentID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.Issuer != "" {
		query += " AND issuer = ?"
		args = append(args, filter.Issuer)
	}

	query += " ORDER BY seq LIMIT ? OFFSET ?"
	args = append(args, effectiveLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*credential.Credential
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, errors.NewTransientf("failed to scan credential: %w", err)
		}
		c, err := decodeCredential(body)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating credentials: %w", err)
	}
	return creds, nil
}

// RecordRelease marks a release as scanned. Recording twice keeps the
// first scan time.
func (s *SQLiteStore) RecordRelease(ctx context.Context, ev types.ReleaseEvent) error {
	if ev.PackageName == "" || ev.Version == "" {
		return errors.NewInvalidInputf("release package name and version are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO releases (package_name, version, source, project_id, scanned_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.PackageName, ev.Version, ev.Source, ev.ProjectID, toUnixNano(s.now()))
	if err != nil {
		return errors.NewTransientf("failed to record release: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReleaseScanned(ctx context.Context, packageName, version string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM releases WHERE package_name = ? AND version = ?`,
		packageName, version).Scan(&n)
	if err != nil {
		return false, errors.NewTransientf("failed to query release: %w", err)
	}
	return n > 0, nil
}

const planColumns = `id, incident_id, package_name, current_version, recommended_version,
	action, steps_json, status, created_at, updated_at`

func scanPlan(row rowScanner) (*types.PatchPlan, error) {
	var p types.PatchPlan
	var action, status, stepsJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&p.ID, &p.IncidentID, &p.PackageName, &p.CurrentVersion, &p.RecommendedVersion,
		&action, &stepsJSON, &status, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	p.Action = types.PatchAction(action)
	p.Status = types.PatchPlanStatus(status)
	p.CreatedAt = fromUnixNano(createdAt)
	p.UpdatedAt = fromUnixNano(updatedAt)
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, errors.NewPermanentf("failed to unmarshal steps of plan %s: %w", p.ID, err)
	}
	return &p, nil
}

// SavePatchPlan inserts plan unless its incident already has one
func (s *SQLiteStore) SavePatchPlan(ctx context.Context, plan *types.PatchPlan) (*types.PatchPlan, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = s.now().UTC()
	}
	if plan.UpdatedAt.IsZero() {
		plan.UpdatedAt = plan.CreatedAt
	}
	if plan.Status == "" {
		plan.Status = types.PlanProposed
	}
	stepsJSON, err := json.Marshal(nonNilStrings(plan.Steps))
	if err != nil {
		return nil, errors.NewPermanentf("failed to marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO patch_plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		plan.ID, plan.IncidentID, plan.PackageName, plan.CurrentVersion, plan.RecommendedVersion,
		string(plan.Action), string(stepsJSON), string(plan.Status), toUnixNano(plan.CreatedAt), toUnixNano(plan.UpdatedAt),
	)
	if err != nil {
		return nil, errors.NewTransientf("failed to insert patch plan: %w", err)
	}

	stored, err := scanPlan(s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM patch_plans WHERE incident_id = ?`, plan.IncidentID))
	if err != nil {
		return nil, errors.NewTransientf("failed to load patch plan: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) GetPatchPlan(ctx context.Context, id string) (*types.PatchPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM patch_plans WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundf("patch plan %s", id)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query patch plan: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPatchPlans(ctx context.Context, filter PatchPlanFilter) ([]*types.PatchPlan, error) {
	query := `SELECT ` + planColumns + ` FROM patch_plans WHERE 1=1`
	args := []interface{}{}

	if filter.IncidentID != "" {
		query += " AND incident_id = ?"
		args = append(args, filter.IncidentID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at, id LIMIT ? OFFSET ?"
	args = append(args, effectiveLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query patch plans: %w", err)
	}
	defer rows.Close()

	var plans []*types.PatchPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, errors.NewTransientf("failed to scan patch plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating patch plans: %w", err)
	}
	return plans, nil
}

func (s *SQLiteStore) UpdatePatchPlanStatus(ctx context.Context, id string, status types.PatchPlanStatus) (*types.PatchPlan, error) {
	unlock := s.locks.Lock("plan:" + id)
	defer unlock()

	current, err := s.GetPatchPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	noop, err := checkPlanTransition(id, current.Status, status)
	if err != nil {
		return nil, err
	}
	if noop {
		return current, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE patch_plans SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(status), toUnixNano(s.now()), id, string(current.Status))
	if err != nil {
		return nil, errors.NewTransientf("failed to update patch plan: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, errors.NewConflictf("patch plan %s changed concurrently", id)
	}
	return s.GetPatchPlan(ctx, id)
}

// CountIncidentsByStatus backs the incidents gauge
func (s *SQLiteStore) CountIncidentsByStatus(ctx context.Context) (map[types.IncidentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, errors.NewTransientf("failed to count incidents: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.IncidentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewTransientf("failed to scan incident count: %w", err)
		}
		counts[types.IncidentStatus(status)] = n
	}
	return counts, rows.Err()
}

// CountCredentialsByType backs the credentials gauge
func (s *SQLiteStore) CountCredentialsByType(ctx context.Context) (map[credential.Type]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM credentials GROUP BY type`)
	if err != nil {
		return nil, errors.NewTransientf("failed to count credentials: %w", err)
	}
	defer rows.Close()

	counts := make(map[credential.Type]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, errors.NewTransientf("failed to scan credential count: %w", err)
		}
		counts[credential.Type(t)] = n
	}
	return counts, rows.Err()
}

// SetClock overrides the time source for created/updated timestamps.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

func nonNilIndicators(in []types.RiskIndicator) []types.RiskIndicator {
	if in == nil {
		return []types.RiskIndicator{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
