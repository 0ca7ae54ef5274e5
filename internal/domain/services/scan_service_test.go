package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appsentry/internal/domain/models"
	"appsentry/internal/infrastructure/database/repository"
)

var scanNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memBaselineStore is an in-memory BaselineStore for tests
type memBaselineStore struct {
	mu   sync.Mutex
	recs map[string]models.BaselineRecord
}

func newMemBaselineStore() *memBaselineStore {
	return &memBaselineStore{recs: make(map[string]models.BaselineRecord)}
}

func (s *memBaselineStore) Get(_ context.Context, packageName string) (*models.BaselineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[packageName]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *memBaselineStore) Upsert(_ context.Context, rec *models.BaselineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.PackageName] = *rec
	return nil
}

func (s *memBaselineStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.recs)), nil
}

func (s *memBaselineStore) List(_ context.Context, limit, offset int) ([]*models.BaselineRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.BaselineRecord
	for _, rec := range s.recs {
		r := rec
		out = append(out, &r)
	}
	return out, int64(len(s.recs)), nil
}

func (s *memBaselineStore) Delete(_ context.Context, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, packageName)
	return nil
}

// memIncidentStore is an in-memory IncidentStore for tests
type memIncidentStore struct {
	mu        sync.Mutex
	incidents map[uuid.UUID]models.SecurityIncident
}

func newMemIncidentStore() *memIncidentStore {
	return &memIncidentStore{incidents: make(map[uuid.UUID]models.SecurityIncident)}
}

func (s *memIncidentStore) Create(_ context.Context, incident *models.SecurityIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = *incident
	return nil
}

func (s *memIncidentStore) GetByID(_ context.Context, id uuid.UUID) (*models.SecurityIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, nil
	}
	out := inc
	return &out, nil
}

func (s *memIncidentStore) List(_ context.Context, filter repository.IncidentFilter) ([]*models.SecurityIncident, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SecurityIncident
	for _, inc := range s.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if filter.PackageName != "" && inc.PackageName != filter.PackageName {
			continue
		}
		i := inc
		out = append(out, &i)
	}
	return out, int64(len(out)), nil
}

func (s *memIncidentStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.IncidentStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil
	}
	inc.Status = status
	inc.UpdatedAt = updatedAt
	s.incidents[id] = inc
	return nil
}

func (s *memIncidentStore) CountByStatus(_ context.Context) (map[models.IncidentStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.IncidentStatus]int64)
	for _, inc := range s.incidents {
		out[inc.Status]++
	}
	return out, nil
}

// fakePublisher records what the scan pipeline published
type fakePublisher struct {
	mu             sync.Mutex
	verdicts       []models.AppVerdict
	incidents      []models.SecurityIncident
	scansCompleted int
}

func (p *fakePublisher) PublishIncidentCreated(_ context.Context, incident *models.SecurityIncident) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.incidents = append(p.incidents, *incident)
	return nil
}

func (p *fakePublisher) PublishVerdict(_ context.Context, verdict *models.AppVerdict) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verdicts = append(p.verdicts, *verdict)
	return nil
}

func (p *fakePublisher) PublishScanCompleted(_ context.Context, appsScanned, incidentCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scansCompleted++
	return nil
}

func (p *fakePublisher) PublishIncidentUpdated(_ context.Context, incident *models.SecurityIncident) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.incidents = append(p.incidents, *incident)
	return nil
}

// fakeLocker denies locks for the listed packages
type fakeLocker struct {
	mu     sync.Mutex
	denied map[string]bool
	held   map[string]bool
}

func (l *fakeLocker) AcquireScanLock(_ context.Context, packageName string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denied[packageName] {
		return false, nil
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	l.held[packageName] = true
	return true, nil
}

func (l *fakeLocker) ReleaseScanLock(_ context.Context, packageName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, packageName)
	return nil
}

type scanFixture struct {
	service   *ScanService
	baselines *memBaselineStore
	incidents *memIncidentStore
	publisher *fakePublisher
}

func newScanFixture(t *testing.T, whitelist []models.CertWhitelistEntry, locker ScanLocker) scanFixture {
	t.Helper()
	log := testLogger()
	now := func() time.Time { return scanNow }

	baselines := newMemBaselineStore()
	incidents := newMemIncidentStore()
	publisher := &fakePublisher{}

	svc := NewScanService(
		NewTrustEvidenceEngine(whitelist, log),
		NewBaselineManager(log),
		NewTrustRiskModel(models.CapabilityClusters, models.DangerousCombos, log),
		NewSignalAggregator(log),
		NewRootCauseResolver(log, now),
		NewInstallTimelineAnalyzer(log, now),
		repository.Stores{Baselines: baselines, Incidents: incidents},
		publisher,
		locker,
		nil,
		ScanOptions{MaxParallel: 4},
		log,
		now,
	)

	return scanFixture{service: svc, baselines: baselines, incidents: incidents, publisher: publisher}
}

func bankApp() models.ScannedAppEvidence {
	return models.ScannedAppEvidence{
		PackageName:      "com.bank.app",
		CertSHA256:       "bankcert",
		VersionCode:      100,
		InstallerPackage: "com.android.vending",
		APKPath:          "/data/app/com.bank.app-1/base.apk",
		Category:         models.CategoryBanking,
	}
}

func dropperApp() models.ScannedAppEvidence {
	return models.ScannedAppEvidence{
		PackageName:      "com.shady.dropper",
		CertSHA256:       "shadycert",
		VersionCode:      1,
		InstallerPackage: "com.example.filemanager",
		APKPath:          "/data/app/com.shady.dropper-1/base.apk",
		GrantedPermissions: []string{
			"android.permission.READ_SMS",
			"android.permission.BIND_ACCESSIBILITY_SERVICE",
		},
		FirstInstallTime: scanNow.Add(-time.Hour),
		Category:         models.CategoryOther,
	}
}

func bankWhitelist() []models.CertWhitelistEntry {
	return []models.CertWhitelistEntry{{
		PackageName:    "com.bank.app",
		Domain:         models.DomainPlaySigned,
		DeveloperCerts: []string{"bankcert"},
	}}
}

func TestScanDeviceEndToEnd(t *testing.T) {
	f := newScanFixture(t, bankWhitelist(), nil)
	ctx := context.Background()

	input := DeviceScanInput{
		Apps:   []models.ScannedAppEvidence{dropperApp(), bankApp()},
		Device: models.DeviceIntegrityEvidence{},
		SpecialAccess: models.SpecialAccessSnapshot{Apps: map[string]models.AppSpecialAccess{
			"com.shady.dropper": {Accessibility: true},
		}},
	}

	report, err := f.service.ScanDevice(ctx, input)
	require.NoError(t, err)
	require.Len(t, report.Apps, 2)

	// Results come back sorted by package name regardless of input order
	bank := report.Apps[0]
	dropper := report.Apps[1]
	assert.Equal(t, "com.bank.app", bank.Verdict.PackageName)
	assert.Equal(t, "com.shady.dropper", dropper.Verdict.PackageName)

	// Known store app with a matching certificate stays off the list
	assert.Equal(t, models.RiskSafe, bank.Verdict.EffectiveRisk)
	assert.Equal(t, models.CertDeveloperMatch, bank.Trust.CertMatch)
	assert.False(t, bank.Verdict.ShouldShowInMainList)

	// Sideloaded low-trust app with SMS and accessibility active
	assert.Equal(t, models.RiskNeedsAttention, dropper.Verdict.EffectiveRisk)
	assert.Contains(t, dropper.Verdict.ActiveClusters, models.ClusterSMS)
	assert.Contains(t, dropper.Verdict.ActiveClusters, models.ClusterAccessibility)

	// Install timeline flagged it and the result is attached
	require.NotNil(t, dropper.Timeline)
	assert.True(t, dropper.Timeline.IsHighConfidenceDropper)
	assert.Nil(t, bank.Timeline)

	// The dropper signal was folded back into the event stream
	var dropperEvent *models.SecurityEvent
	for i, ev := range report.Events {
		if ev.Type == models.EventDropperPattern {
			dropperEvent = &report.Events[i]
		}
	}
	require.NotNil(t, dropperEvent)
	assert.True(t, dropperEvent.Promoted)
	assert.Equal(t, "com.shady.dropper", dropperEvent.PackageName)

	// Three promoted events for the dropper resolve into three incidents
	require.Len(t, report.Incidents, 3)
	for _, inc := range report.Incidents {
		assert.Equal(t, "com.shady.dropper", inc.PackageName)
		assert.Equal(t, models.IncidentOpen, inc.Status)
		assert.Equal(t, 2, inc.CorroboratingEvents)
	}

	// The dropper incident is decisive enough to recommend uninstall
	var sawUninstall bool
	for _, inc := range report.Incidents {
		for _, a := range inc.Actions {
			if a.Type == models.ActionUninstall {
				sawUninstall = true
			}
		}
	}
	assert.True(t, sawUninstall)

	// Summary counts
	assert.Equal(t, ScanSummary{
		AppsScanned:    2,
		NeedsAttention: 1,
		Safe:           1,
		NewBaselines:   2,
		Incidents:      3,
	}, report.Summary)

	// Baselines persisted for both apps
	rec, err := f.baselines.Get(ctx, "com.shady.dropper")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.ScanCount)
	assert.Equal(t, scanNow, rec.FirstSeenAt)

	// Incidents persisted and published
	counts, err := f.incidents.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.IncidentOpen])
	assert.Len(t, f.publisher.incidents, 3)
	assert.Len(t, f.publisher.verdicts, 2)
	assert.Equal(t, 1, f.publisher.scansCompleted)
}

func TestScanDeviceDetectsCertChangeOnRescan(t *testing.T) {
	f := newScanFixture(t, bankWhitelist(), nil)
	ctx := context.Background()

	first := DeviceScanInput{Apps: []models.ScannedAppEvidence{bankApp()}}
	_, err := f.service.ScanDevice(ctx, first)
	require.NoError(t, err)

	// Same package reappears with a different signing certificate
	tampered := bankApp()
	tampered.CertSHA256 = "forgedcert"
	second := DeviceScanInput{Apps: []models.ScannedAppEvidence{tampered}}

	report, err := f.service.ScanDevice(ctx, second)
	require.NoError(t, err)
	require.Len(t, report.Apps, 1)

	app := report.Apps[0]
	assert.Equal(t, models.RiskCritical, app.Verdict.EffectiveRisk)
	assert.True(t, app.Comparison.HasAnomaly(models.AnomalyCertChanged))
	assert.False(t, app.Comparison.IsFirstScan)

	require.NotEmpty(t, report.Incidents)
	var certIncident *models.SecurityIncident
	for i, inc := range report.Incidents {
		if inc.Title == "Possible app tampering: com.bank.app" {
			certIncident = &report.Incidents[i]
		}
	}
	require.NotNil(t, certIncident)
	assert.Equal(t, models.SeverityCritical, certIncident.Severity)
	require.NotNil(t, certIncident.TopHypothesis())
	assert.Equal(t, certIncident.TopHypothesis().Description, certIncident.Summary)

	// Baseline now carries the certificate history
	rec, err := f.baselines.Get(ctx, "com.bank.app")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "forgedcert", rec.CertSHA256)
	assert.Equal(t, "bankcert", rec.PreviousCertSHA256)
	require.NotNil(t, rec.LastCertChangeAt)
	assert.Equal(t, 2, rec.ScanCount)
}

func TestScanDeviceReportsRemovedBaselines(t *testing.T) {
	f := newScanFixture(t, bankWhitelist(), nil)
	ctx := context.Background()

	first := DeviceScanInput{Apps: []models.ScannedAppEvidence{bankApp(), dropperApp()}}
	report, err := f.service.ScanDevice(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, report.Removed)

	// The dropper is gone from the next snapshot
	second := DeviceScanInput{Apps: []models.ScannedAppEvidence{bankApp()}}
	report, err = f.service.ScanDevice(ctx, second)
	require.NoError(t, err)

	require.Len(t, report.Removed, 1)
	assert.Equal(t, "com.shady.dropper", report.Removed[0].PackageName)
	assert.Equal(t, models.BaselineRemoved, report.Removed[0].Status)
	assert.Equal(t, 1, report.Removed[0].ScanCount)
	assert.Equal(t, 1, report.Summary.Removed)

	// The baseline record survives the uninstall; a reinstall resumes it
	rec, err := f.baselines.Get(ctx, "com.shady.dropper")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.ScanCount)
}

func TestScanDeviceSkipsLockedPackages(t *testing.T) {
	locker := &fakeLocker{denied: map[string]bool{"com.shady.dropper": true}}
	f := newScanFixture(t, bankWhitelist(), locker)
	ctx := context.Background()

	input := DeviceScanInput{Apps: []models.ScannedAppEvidence{bankApp(), dropperApp()}}
	report, err := f.service.ScanDevice(ctx, input)
	require.NoError(t, err)

	// The locked package is dropped from this scan, the rest proceeds
	require.Len(t, report.Apps, 1)
	assert.Equal(t, "com.bank.app", report.Apps[0].Verdict.PackageName)
	assert.Equal(t, 1, report.Summary.AppsScanned)

	// No lock left behind
	assert.Empty(t, locker.held)
}

func TestScanDeviceEmitsDeviceConfigSignals(t *testing.T) {
	f := newScanFixture(t, nil, nil)
	ctx := context.Background()

	input := DeviceScanInput{
		Apps: []models.ScannedAppEvidence{bankApp()},
		Config: models.ConfigSnapshot{
			UserCACertFingerprints: []string{"fp1"},
			USBDebuggingEnabled:    true,
			UnknownSourcesAllowed:  true,
		},
	}

	report, err := f.service.ScanDevice(ctx, input)
	require.NoError(t, err)

	var caEvent, tamperEvent *models.SecurityEvent
	for i, ev := range report.Events {
		switch ev.Type {
		case models.EventNewCACert:
			caEvent = &report.Events[i]
		case models.EventConfigTampered:
			tamperEvent = &report.Events[i]
		}
	}

	require.NotNil(t, caEvent)
	assert.Empty(t, caEvent.PackageName)
	assert.True(t, caEvent.Promoted)

	require.NotNil(t, tamperEvent)
	assert.Len(t, tamperEvent.Signals, 2)
	assert.True(t, tamperEvent.Promoted)

	// Device-level incidents carry no package name
	var deviceIncidents int
	for _, inc := range report.Incidents {
		if inc.PackageName == "" {
			deviceIncidents++
		}
	}
	assert.Equal(t, 2, deviceIncidents)
}

func TestScanApp(t *testing.T) {
	f := newScanFixture(t, bankWhitelist(), nil)
	ctx := context.Background()

	result, err := f.service.ScanApp(ctx, bankApp(), models.DeviceIntegrityEvidence{}, models.AppSpecialAccess{})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, models.RiskSafe, result.Verdict.EffectiveRisk)
	assert.True(t, result.Comparison.IsFirstScan)
	assert.Equal(t, scanNow, result.Verdict.EvaluatedAt)

	// Single-app scans persist the baseline too
	rec, err := f.baselines.Get(ctx, "com.bank.app")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestScanDeviceDeterministicOrdering(t *testing.T) {
	f := newScanFixture(t, bankWhitelist(), nil)
	ctx := context.Background()

	apps := []models.ScannedAppEvidence{
		{PackageName: "com.zebra.app", CertSHA256: "z", VersionCode: 1, InstallerPackage: "com.android.vending", APKPath: "/data/app/z/base.apk"},
		{PackageName: "com.alpha.app", CertSHA256: "a", VersionCode: 1, InstallerPackage: "com.android.vending", APKPath: "/data/app/a/base.apk"},
		{PackageName: "com.mid.app", CertSHA256: "m", VersionCode: 1, InstallerPackage: "com.android.vending", APKPath: "/data/app/m/base.apk"},
	}

	report, err := f.service.ScanDevice(ctx, DeviceScanInput{Apps: apps})
	require.NoError(t, err)
	require.Len(t, report.Apps, 3)
	assert.Equal(t, "com.alpha.app", report.Apps[0].Verdict.PackageName)
	assert.Equal(t, "com.mid.app", report.Apps[1].Verdict.PackageName)
	assert.Equal(t, "com.zebra.app", report.Apps[2].Verdict.PackageName)
}
