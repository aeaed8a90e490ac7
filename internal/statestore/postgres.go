package statestore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/types"
)

type incidentModel struct {
	ID             string `gorm:"primaryKey"`
	PackageName    string `gorm:"index:idx_incident_package;not null"`
	Version        string `gorm:"index:idx_incident_package;not null"`
	Title          string `gorm:"not null;default:''"`
	Description    string `gorm:"not null;default:''"`
	Severity       string `gorm:"not null"`
	Status         string `gorm:"index;not null"`
	IndicatorsJSON []byte `gorm:"type:jsonb;not null"`
	ProjectIDsJSON []byte `gorm:"type:jsonb;not null"`
	CreatedAt      int64  `gorm:"not null;autoCreateTime:false"`
	UpdatedAt      int64  `gorm:"not null;autoUpdateTime:false"`
}

func (incidentModel) TableName() string { return "incidents" }

type credentialModel struct {
	Seq         int64  `gorm:"primaryKey;autoIncrement"`
	ID          string `gorm:"uniqueIndex;not null"`
	Type        string `gorm:"index;not null"`
	Issuer      string `gorm:"not null"`
	PackageName string `gorm:"index:idx_credential_package;not null"`
	Version     string `gorm:"index:idx_credential_package;not null"`
	IncidentID  string `gorm:"index;not null;default:''"`
	IssuedAt    int64  `gorm:"not null"`
	ExpiresAt   *int64
	Body        string `gorm:"type:text;not null"`
}

func (credentialModel) TableName() string { return "credentials" }

type releaseModel struct {
	PackageName string `gorm:"primaryKey"`
	Version     string `gorm:"primaryKey"`
	Source      string `gorm:"not null;default:''"`
	ProjectID   string `gorm:"not null;default:''"`
	ScannedAt   int64  `gorm:"not null"`
}

func (releaseModel) TableName() string { return "releases" }

type patchPlanModel struct {
	ID                 string `gorm:"primaryKey"`
	IncidentID         string `gorm:"uniqueIndex;not null"`
	PackageName        string `gorm:"not null"`
	CurrentVersion     string `gorm:"not null"`
	RecommendedVersion string `gorm:"not null;default:''"`
	Action             string `gorm:"not null"`
	StepsJSON          []byte `gorm:"type:jsonb;not null"`
	Status             string `gorm:"not null"`
	CreatedAt          int64  `gorm:"not null;autoCreateTime:false"`
	UpdatedAt          int64  `gorm:"not null;autoUpdateTime:false"`
}

func (patchPlanModel) TableName() string { return "patch_plans" }

// PostgresStore implements StateStore on PostgreSQL through gorm
type PostgresStore struct {
	db    *gorm.DB
	locks *KeyedMutex
	now   func() time.Time
}

// NewPostgresStore connects to dsn and migrates the schema
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.NewInvalidInputf("postgres DSN is required")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.NewTransientf("connect postgres: %w", err)
	}
	return newPostgresStore(gdb)
}

func newPostgresStore(gdb *gorm.DB) (*PostgresStore, error) {
	if err := gdb.AutoMigrate(&incidentModel{}, &credentialModel{}, &releaseModel{}, &patchPlanModel{}); err != nil {
		return nil, errors.NewPermanentf("failed to migrate schema: %w", err)
	}
	return &PostgresStore{
		db:    gdb,
		locks: NewKeyedMutex(),
		now:   time.Now,
	}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) SetClock(now func() time.Time) {
	s.now = now
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key value")
}

func incidentToModel(inc *types.Incident) (*incidentModel, error) {
	indicators, err := json.Marshal(nonNilIndicators(inc.Indicators))
	if err != nil {
		return nil, errors.NewPermanentf("failed to marshal indicators: %w", err)
	}
	projects, err := json.Marshal(nonNilStrings(inc.ProjectIDs))
	if err != nil {
		return nil, errors.NewPermanentf("failed to marshal project ids: %w", err)
	}
	return &incidentModel{
		ID:             inc.ID,
		PackageName:    inc.PackageName,
		Version:        inc.Version,
		Title:          inc.Title,
		Description:    inc.Description,
		Severity:       string(inc.Severity),
		Status:         string(inc.Status),
		IndicatorsJSON: indicators,
		ProjectIDsJSON: projects,
		CreatedAt:      toUnixNano(inc.CreatedAt),
		UpdatedAt:      toUnixNano(inc.UpdatedAt),
	}, nil
}

func (m *incidentModel) toIncident() (*types.Incident, error) {
	inc := &types.Incident{
		ID:          m.ID,
		PackageName: m.PackageName,
		Version:     m.Version,
		Title:       m.Title,
		Description: m.Description,
		Severity:    types.Severity(m.Severity),
		Status:      types.IncidentStatus(m.Status),
		CreatedAt:   fromUnixNano(m.CreatedAt),
		UpdatedAt:   fromUnixNano(m.UpdatedAt),
	}
	if err := json.Unmarshal(m.IndicatorsJSON, &inc.Indicators); err != nil {
		return nil, errors.NewPermanentf("failed to unmarshal indicators of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal(m.ProjectIDsJSON, &inc.ProjectIDs); err != nil {
		return nil, errors.NewPermanentf("failed to unmarshal project ids of %s: %w", m.ID, err)
	}
	return inc, nil
}

func (s *PostgresStore) CreateIncident(ctx context.Context, inc *types.Incident) error {
	if err := validateIncident(inc); err != nil {
		return err
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.now().UTC()
	}
	if inc.UpdatedAt.IsZero() {
		inc.UpdatedAt = inc.CreatedAt
	}
	m, err := incidentToModel(inc)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(m).Error
	if isDuplicateKey(err) {
		return errors.NewConflictf("incident %s already exists", inc.ID)
	}
	if err != nil {
		return errors.NewTransientf("failed to insert incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, id string) (*types.Incident, error) {
	var m incidentModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewNotFoundf("incident %s", id)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query incident: %w", err)
	}
	inc, err := m.toIncident()
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := s.db.WithContext(ctx).Model(&credentialModel{}).
		Where("incident_id = ?", id).Order("seq").Pluck("id", &ids).Error; err != nil {
		return nil, errors.NewTransientf("failed to query credential ids: %w", err)
	}
	if len(ids) > 0 {
		inc.CredentialIDs = ids
	}
	return inc, nil
}

func (s *PostgresStore) FindOpenIncident(ctx context.Context, packageName, version string) (*types.Incident, error) {
	var m incidentModel
	err := s.db.WithContext(ctx).
		Where("package_name = ? AND version = ? AND status IN ?", packageName, version,
			[]string{string(types.StatusDetected), string(types.StatusVerified)}).
		Order("created_at DESC, id DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewNotFoundf("no open incident for %s", types.PackageKey(packageName, version))
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query open incident: %w", err)
	}
	return m.toIncident()
}

// UpdateIncidentStatus locks the row with SELECT ... FOR UPDATE so writers
// in other processes serialise as well.
func (s *PostgresStore) UpdateIncidentStatus(ctx context.Context, id string, status types.IncidentStatus) (*types.Incident, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m incidentModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NewNotFoundf("incident %s", id)
		}
		if err != nil {
			return errors.NewTransientf("failed to query incident status: %w", err)
		}

		noop, err := checkTransition(id, types.IncidentStatus(m.Status), status)
		if err != nil || noop {
			return err
		}

		result := tx.Model(&incidentModel{}).
			Where("id = ? AND status = ?", id, m.Status).
			Updates(map[string]interface{}{"status": string(status), "updated_at": toUnixNano(s.now())})
		if result.Error != nil {
			return errors.NewTransientf("failed to update incident status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errors.NewConflictf("incident %s changed concurrently", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetIncident(ctx, id)
}

func (s *PostgresStore) QueryIncidents(ctx context.Context, filter IncidentFilter) ([]*types.Incident, error) {
	q := s.db.WithContext(ctx).Model(&incidentModel{})
	if filter.PackageName != "" {
		q = q.Where("package_name = ?", filter.PackageName)
	}
	if filter.Version != "" {
		q = q.Where("version = ?", filter.Version)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var models []incidentModel
	if err := q.Order("created_at, id").Limit(effectiveLimit(filter.Limit)).Offset(filter.Offset).
		Find(&models).Error; err != nil {
		return nil, errors.NewTransientf("failed to query incidents: %w", err)
	}

	incidents := make([]*types.Incident, 0, len(models))
	for i := range models {
		inc, err := models[i].toIncident()
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, nil
}

func (s *PostgresStore) AppendCredential(ctx context.Context, c *credential.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	body, err := json.Marshal(c)
	if err != nil {
		return errors.NewPermanentf("failed to marshal credential %s: %w", c.ID, err)
	}

	m := &credentialModel{
		ID:          c.ID,
		Type:        string(c.Type),
		Issuer:      c.IssuerIdentity,
		PackageName: c.Subject.PackageName,
		Version:     c.Subject.Version,
		IncidentID:  c.Subject.IncidentID,
		IssuedAt:    toUnixNano(c.IssuedAt),
		Body:        string(body),
	}
	if c.ExpiresAt != nil {
		exp := toUnixNano(*c.ExpiresAt)
		m.ExpiresAt = &exp
	}

	err = s.db.WithContext(ctx).Create(m).Error
	if isDuplicateKey(err) {
		return errors.NewConflictf("credential %s already exists", c.ID)
	}
	if err != nil {
		return errors.NewTransientf("failed to insert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, id string) (*credential.Credential, error) {
	var m credentialModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewNotFoundf("credential %s", id)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query credential: %w", err)
	}
	return decodeCredential(m.Body)
}

func (s *PostgresStore) QueryCredentials(ctx context.Context, filter CredentialFilter) ([]*credential.Credential, error) {
	q := s.db.WithContext(ctx).Model(&credentialModel{})
	if filter.PackageName != "" {
		q = q.Where("package_name = ?", filter.PackageName)
	}
	if filter.Version != "" {
		q = q.Where("version = ?", filter.Version)
	}
	if filter.IncidentID != "" {
		q = q.Where("incident_id = ?", filter.IncidentID)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.Issuer != "" {
		q = q.Where("issuer = ?", filter.Issuer)
	}

	var bodies []string
	if err := q.Order("seq").Limit(effectiveLimit(filter.Limit)).Offset(filter.Offset).
		Pluck("body", &bodies).Error; err != nil {
		return nil, errors.NewTransientf("failed to query credentials: %w", err)
	}

	creds := make([]*credential.Credential, 0, len(bodies))
	for _, body := range bodies {
		c, err := decodeCredential(body)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, nil
}

func (s *PostgresStore) RecordRelease(ctx context.Context, ev types.ReleaseEvent) error {
	if ev.PackageName == "" || ev.Version == "" {
		return errors.NewInvalidInputf("release package name and version are required")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&releaseModel{
		PackageName: ev.PackageName,
		Version:     ev.Version,
		Source:      ev.Source,
		ProjectID:   ev.ProjectID,
		ScannedAt:   toUnixNano(s.now()),
	}).Error
	if err != nil {
		return errors.NewTransientf("failed to record release: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseScanned(ctx context.Context, packageName, version string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&releaseModel{}).
		Where("package_name = ? AND version = ?", packageName, version).
		Count(&n).Error; err != nil {
		return false, errors.NewTransientf("failed to query release: %w", err)
	}
	return n > 0, nil
}

func planToModel(p *types.PatchPlan) (*patchPlanModel, error) {
	steps, err := json.Marshal(nonNilStrings(p.Steps))
	if err != nil {
		return nil, errors.NewPermanentf("failed to marshal steps: %w", err)
	}
	return &patchPlanModel{
		ID:                 p.ID,
		IncidentID:         p.IncidentID,
		PackageName:        p.PackageName,
		CurrentVersion:     p.CurrentVersion,
		RecommendedVersion: p.RecommendedVersion,
		Action:             string(p.Action),
		StepsJSON:          steps,
		Status:             string(p.Status),
		CreatedAt:          toUnixNano(p.CreatedAt),
		UpdatedAt:          toUnixNano(p.UpdatedAt),
	}, nil
}

func (m *patchPlanModel) toPlan() (*types.PatchPlan, error) {
	p := &types.PatchPlan{
		ID:                 m.ID,
		IncidentID:         m.IncidentID,
		PackageName:        m.PackageName,
		CurrentVersion:     m.CurrentVersion,
		RecommendedVersion: m.RecommendedVersion,
		Action:             types.PatchAction(m.Action),
		Status:             types.PatchPlanStatus(m.Status),
		CreatedAt:          fromUnixNano(m.CreatedAt),
		UpdatedAt:          fromUnixNano(m.UpdatedAt),
	}
	if err := json.Unmarshal(m.StepsJSON, &p.Steps); err != nil {
		return nil, errors.NewPermanentf("failed to unmarshal steps of plan %s: %w", m.ID, err)
	}
	return p, nil
}

func (s *PostgresStore) SavePatchPlan(ctx context.Context, plan *types.PatchPlan) (*types.PatchPlan, error) {
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
	m, err := planToModel(plan)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error; err != nil {
		return nil, errors.NewTransientf("failed to insert patch plan: %w", err)
	}

	var stored patchPlanModel
	if err := s.db.WithContext(ctx).Where("incident_id = ?", plan.IncidentID).Take(&stored).Error; err != nil {
		return nil, errors.NewTransientf("failed to load patch plan: %w", err)
	}
	return stored.toPlan()
}

func (s *PostgresStore) GetPatchPlan(ctx context.Context, id string) (*types.PatchPlan, error) {
	var m patchPlanModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewNotFoundf("patch plan %s", id)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query patch plan: %w", err)
	}
	return m.toPlan()
}

func (s *PostgresStore) ListPatchPlans(ctx context.Context, filter PatchPlanFilter) ([]*types.PatchPlan, error) {
	q := s.db.WithContext(ctx).Model(&patchPlanModel{})
	if filter.IncidentID != "" {
		q = q.Where("incident_id = ?", filter.IncidentID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var models []patchPlanModel
	if err := q.Order("created_at, id").Limit(effectiveLimit(filter.Limit)).Offset(filter.Offset).
		Find(&models).Error; err != nil {
		return nil, errors.NewTransientf("failed to query patch plans: %w", err)
	}
	plans := make([]*types.PatchPlan, 0, len(models))
	for i := range models {
		p, err := models[i].toPlan()
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (s *PostgresStore) UpdatePatchPlanStatus(ctx context.Context, id string, status types.PatchPlanStatus) (*types.PatchPlan, error) {
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

	result := s.db.WithContext(ctx).Model(&patchPlanModel{}).
		Where("id = ? AND status = ?", id, string(current.Status)).
		Updates(map[string]interface{}{"status": string(status), "updated_at": toUnixNano(s.now())})
	if result.Error != nil {
		return nil, errors.NewTransientf("failed to update patch plan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errors.NewConflictf("patch plan %s changed concurrently", id)
	}
	return s.GetPatchPlan(ctx, id)
}

type groupCount struct {
	Key   string
	Count int
}

func (s *PostgresStore) countBy(ctx context.Context, model interface{}, column string) ([]groupCount, error) {
	var counts []groupCount
	err := s.db.WithContext(ctx).Model(model).
		Select(column + " AS key, COUNT(*) AS count").
		Group(column).
		Scan(&counts).Error
	if err != nil {
		return nil, errors.NewTransientf("failed to count by %s: %w", column, err)
	}
	return counts, nil
}

func (s *PostgresStore) CountIncidentsByStatus(ctx context.Context) (map[types.IncidentStatus]int, error) {
	rows, err := s.countBy(ctx, &incidentModel{}, "status")
	if err != nil {
		return nil, err
	}
	counts := make(map[types.IncidentStatus]int, len(rows))
	for _, r := range rows {
		counts[types.IncidentStatus(r.Key)] = r.Count
	}
	return counts, nil
}

func (s *PostgresStore) CountCredentialsByType(ctx context.Context) (map[credential.Type]int, error) {
	rows, err := s.countBy(ctx, &credentialModel{}, "type")
	if err != nil {
		return nil, err
	}
	counts := make(map[credential.Type]int, len(rows))
	for _, r := range rows {
		counts[credential.Type(r.Key)] = r.Count
	}
	return counts, nil
}
