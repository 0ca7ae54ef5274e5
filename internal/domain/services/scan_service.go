package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"appsentry/internal/domain/models"
	"appsentry/internal/infrastructure/database/repository"
	"appsentry/pkg/logger"
)

// EventPublisher pushes scan outcomes to the streaming layer
type EventPublisher interface {
	PublishIncidentCreated(ctx context.Context, incident *models.SecurityIncident) error
	PublishVerdict(ctx context.Context, verdict *models.AppVerdict) error
	PublishScanCompleted(ctx context.Context, appsScanned, incidentCount int) error
}

// ScanLocker serializes concurrent scans of the same package across
// processes. The in-process keyed mutex below handles the single-process
// case on its own.
type ScanLocker interface {
	AcquireScanLock(ctx context.Context, packageName string, ttl time.Duration) (bool, error)
	ReleaseScanLock(ctx context.Context, packageName string) error
}

// VerdictCache stores the latest verdict per package for cheap reads
type VerdictCache interface {
	CacheVerdict(ctx context.Context, packageName string, verdict any, ttl time.Duration) error
}

// ScanOptions tunes the orchestrator
type ScanOptions struct {
	MaxParallel     int
	LockTTL         time.Duration
	VerdictCacheTTL time.Duration
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 8
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	if o.VerdictCacheTTL <= 0 {
		o.VerdictCacheTTL = 10 * time.Minute
	}
	return o
}

// DeviceScanInput is one full device scan as delivered by the collaborators
type DeviceScanInput struct {
	Apps          []models.ScannedAppEvidence   `json:"apps"`
	Device        models.DeviceIntegrityEvidence `json:"device"`
	Config        models.ConfigSnapshot          `json:"config"`
	SpecialAccess models.SpecialAccessSnapshot   `json:"special_access"`
}

// AppScanResult is the per-app outcome of a device scan
type AppScanResult struct {
	Verdict    models.AppVerdict         `json:"verdict"`
	Comparison models.BaselineComparison `json:"comparison"`
	Trust      models.TrustEvidence      `json:"trust"`
	Timeline   *models.TimelineResult    `json:"timeline,omitempty"`
}

// DeviceScanReport is the full outcome of one device scan
type DeviceScanReport struct {
	ScannedAt time.Time       `json:"scanned_at"`
	Apps      []AppScanResult `json:"apps"`

	// Removed lists baselined packages no longer present on the device.
	// Their baseline records are kept; only the comparison reports them.
	Removed []models.BaselineComparison `json:"removed,omitempty"`

	Incidents []models.SecurityIncident `json:"incidents,omitempty"`
	Events    []models.SecurityEvent    `json:"events,omitempty"`

	Summary ScanSummary `json:"summary"`
}

// ScanSummary is the headline counts for one scan
type ScanSummary struct {
	AppsScanned    int `json:"apps_scanned"`
	Critical       int `json:"critical"`
	NeedsAttention int `json:"needs_attention"`
	Info           int `json:"info"`
	Safe           int `json:"safe"`
	NewBaselines   int `json:"new_baselines"`
	Removed        int `json:"removed"`
	Incidents      int `json:"incidents"`
}

// ScanService orchestrates the full evidence pipeline for a device scan:
// trust scoring, baseline comparison, risk evaluation, then the
// signal-event-incident chain.
type ScanService struct {
	trust     *TrustEvidenceEngine
	baselines *BaselineManager
	risk      *TrustRiskModel
	aggregate *SignalAggregator
	resolver  *RootCauseResolver
	timeline  *InstallTimelineAnalyzer

	stores    repository.Stores
	publisher EventPublisher
	locker    ScanLocker
	verdicts  VerdictCache

	opts   ScanOptions
	logger *logger.Logger
	now    func() time.Time

	pkgLocks keyedMutex
}

// NewScanService wires the orchestrator. publisher, locker and verdicts
// may be nil; the corresponding steps are skipped.
func NewScanService(
	trust *TrustEvidenceEngine,
	baselines *BaselineManager,
	risk *TrustRiskModel,
	aggregate *SignalAggregator,
	resolver *RootCauseResolver,
	timeline *InstallTimelineAnalyzer,
	stores repository.Stores,
	publisher EventPublisher,
	locker ScanLocker,
	verdicts VerdictCache,
	opts ScanOptions,
	log *logger.Logger,
	now func() time.Time,
) *ScanService {
	if now == nil {
		now = time.Now
	}
	return &ScanService{
		trust:     trust,
		baselines: baselines,
		risk:      risk,
		aggregate: aggregate,
		resolver:  resolver,
		timeline:  timeline,
		stores:    stores,
		publisher: publisher,
		locker:    locker,
		verdicts:  verdicts,
		opts:      opts.withDefaults(),
		logger:    log.WithComponent("scan"),
		now:       now,
	}
}

// ScanDevice runs the full pipeline over one device snapshot. App results
// come back sorted by package name so identical input yields an identical
// report.
func (s *ScanService) ScanDevice(ctx context.Context, input DeviceScanInput) (*DeviceScanReport, error) {
	scannedAt := s.now()
	baselineCount, err := s.stores.Baselines.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count baselines: %w", err)
	}

	type appOutcome struct {
		result  AppScanResult
		signals []models.SecuritySignal
		vector  models.AppFeatureVector
		err     error
	}

	outcomes := make([]appOutcome, len(input.Apps))
	sem := make(chan struct{}, s.opts.MaxParallel)
	var wg sync.WaitGroup

	for i := range input.Apps {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			app := input.Apps[i]
			result, signals, vector, err := s.scanApp(ctx, app, input, baselineCount, scannedAt)
			outcomes[i] = appOutcome{result: result, signals: signals, vector: vector, err: err}
		}(i)
	}
	wg.Wait()

	report := &DeviceScanReport{ScannedAt: scannedAt}
	var signals []models.SecuritySignal
	vectors := make(map[string]models.AppFeatureVector, len(input.Apps))

	for i, out := range outcomes {
		if out.err != nil {
			s.logger.Error().Err(out.err).Str("package", input.Apps[i].PackageName).Msg("app scan failed")
			continue
		}
		report.Apps = append(report.Apps, out.result)
		signals = append(signals, out.signals...)
		vectors[out.vector.PackageName] = out.vector
	}

	signals = append(signals, s.deviceSignals(input.Config, scannedAt)...)

	// First aggregation pass feeds the timeline; dropper hits come back as
	// one more signal and everything is re-aggregated.
	events := s.aggregate.Aggregate(signals)
	timelines := s.analyzeTimelines(vectors, events)

	for pkg, tl := range timelines {
		if !tl.IsDropperCandidate {
			continue
		}
		signals = append(signals, models.SecuritySignal{
			Type:        models.SignalDropperPattern,
			PackageName: pkg,
			Severity:    models.SeverityHigh,
			Message:     fmt.Sprintf("install timeline matches dropper pattern (score %.2f)", tl.Score),
			ObservedAt:  scannedAt,
		})
	}

	report.Events = s.aggregate.Aggregate(signals)
	incidents := s.resolver.ResolveAll(Promoted(report.Events), vectors, input.Config, timelines)
	report.Incidents = incidents

	for i := range report.Apps {
		if tl, ok := timelines[report.Apps[i].Verdict.PackageName]; ok {
			tlCopy := tl
			report.Apps[i].Timeline = &tlCopy
		}
	}

	sort.SliceStable(report.Apps, func(i, j int) bool {
		return report.Apps[i].Verdict.PackageName < report.Apps[j].Verdict.PackageName
	})

	report.Removed = s.removedBaselines(ctx, input.Apps)

	for i := range incidents {
		if err := s.stores.Incidents.Create(ctx, &incidents[i]); err != nil {
			s.logger.Error().Err(err).Str("incident", incidents[i].ID.String()).Msg("failed to persist incident")
			continue
		}
		if s.publisher != nil {
			if err := s.publisher.PublishIncidentCreated(ctx, &incidents[i]); err != nil {
				s.logger.Warn().Err(err).Msg("failed to publish incident")
			}
		}
	}

	report.Summary = s.summarize(report, len(incidents))

	if s.publisher != nil {
		if err := s.publisher.PublishScanCompleted(ctx, report.Summary.AppsScanned, len(incidents)); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish scan summary")
		}
	}

	s.logger.Info().
		Int("apps", report.Summary.AppsScanned).
		Int("critical", report.Summary.Critical).
		Int("needs_attention", report.Summary.NeedsAttention).
		Int("incidents", len(incidents)).
		Msg("device scan completed")

	return report, nil
}

// ScanApp evaluates a single app outside the device pipeline. No incident
// resolution happens here; droppers need the device-wide picture.
func (s *ScanService) ScanApp(ctx context.Context, app models.ScannedAppEvidence, device models.DeviceIntegrityEvidence, access models.AppSpecialAccess) (*AppScanResult, error) {
	baselineCount, err := s.stores.Baselines.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count baselines: %w", err)
	}

	input := DeviceScanInput{
		Device:        device,
		SpecialAccess: models.SpecialAccessSnapshot{Apps: map[string]models.AppSpecialAccess{app.PackageName: access}},
	}
	result, _, _, err := s.scanApp(ctx, app, input, baselineCount, s.now())
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// scanApp runs the per-app pipeline under the package lock: read baseline,
// compare, evaluate, write next baseline.
func (s *ScanService) scanApp(ctx context.Context, app models.ScannedAppEvidence, input DeviceScanInput, baselineCount int64, scannedAt time.Time) (AppScanResult, []models.SecuritySignal, models.AppFeatureVector, error) {
	unlock := s.pkgLocks.Lock(app.PackageName)
	defer unlock()

	if s.locker != nil {
		acquired, err := s.locker.AcquireScanLock(ctx, app.PackageName, s.opts.LockTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("package", app.PackageName).Msg("scan lock unavailable, proceeding locally")
		} else if !acquired {
			return AppScanResult{}, nil, models.AppFeatureVector{}, fmt.Errorf("package %s is being scanned elsewhere", app.PackageName)
		} else {
			defer func() {
				if err := s.locker.ReleaseScanLock(ctx, app.PackageName); err != nil {
					s.logger.Warn().Err(err).Str("package", app.PackageName).Msg("failed to release scan lock")
				}
			}()
		}
	}

	stored, err := s.stores.Baselines.Get(ctx, app.PackageName)
	if err != nil {
		return AppScanResult{}, nil, models.AppFeatureVector{}, fmt.Errorf("failed to load baseline: %w", err)
	}

	trust := s.trust.CollectEvidence(app, input.Device)
	cmp := s.baselines.Compare(app, stored, baselineCount)
	access := input.SpecialAccess.For(app.PackageName)
	isNewApp := cmp.IsFirstScan ||
		(!app.FirstInstallTime.IsZero() && scannedAt.Sub(app.FirstInstallTime) <= timelineFreshWindow)

	findings := s.findingsFromComparison(cmp, app)
	findings = append(findings, s.staticFindings(app, trust, cmp)...)

	verdict := s.risk.Evaluate(EvaluateInput{
		Trust:              trust,
		Findings:           findings,
		GrantedPermissions: app.GrantedPermissions,
		Category:           app.Category,
		IsNewApp:           isNewApp,
		SpecialAccess:      access,
		InstallClass:       models.InstallClassFor(app),
		IsDebugSigned:      app.IsDebugSigned,
	})
	verdict.EvaluatedAt = scannedAt

	next := s.baselines.NextRecord(app, stored, scannedAt)
	if err := s.stores.Baselines.Upsert(ctx, &next); err != nil {
		return AppScanResult{}, nil, models.AppFeatureVector{}, fmt.Errorf("failed to store baseline: %w", err)
	}

	if s.verdicts != nil {
		if err := s.verdicts.CacheVerdict(ctx, app.PackageName, verdict, s.opts.VerdictCacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("package", app.PackageName).Msg("failed to cache verdict")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishVerdict(ctx, &verdict); err != nil {
			s.logger.Warn().Err(err).Str("package", app.PackageName).Msg("failed to publish verdict")
		}
	}

	vector := models.AppFeatureVector{
		PackageName:            app.PackageName,
		TrustScore:             trust.TrustScore,
		TrustLevel:             trust.TrustLevel,
		InstallerType:          trust.InstallerType,
		Category:               app.Category,
		IsNewApp:               isNewApp,
		InstalledAt:            app.FirstInstallTime,
		ActiveClusters:         verdict.ActiveClusters,
		SpecialAccess:          access,
		HasBootReceiver:        app.HasBootReceiver,
		UsesDynamicCodeLoading: app.UsesDynamicCodeLoading,
		IsDebugSigned:          app.IsDebugSigned,
	}

	signals := s.appSignals(app, cmp, trust, access, isNewApp, scannedAt)

	return AppScanResult{Verdict: verdict, Comparison: cmp, Trust: trust}, signals, vector, nil
}

// findingsFromComparison converts baseline anomalies into findings
func (s *ScanService) findingsFromComparison(cmp models.BaselineComparison, app models.ScannedAppEvidence) []models.RawFinding {
	var findings []models.RawFinding
	for _, a := range cmp.Anomalies {
		switch a.Type {
		case models.AnomalyCertChanged:
			findings = append(findings, models.RawFinding{
				Type:        models.FindingBaselineCertChanged,
				Severity:    models.SeverityCritical,
				Title:       "Signing certificate changed",
				Description: a.Description,
			})
		case models.AnomalyVersionRollback:
			if app.InstallerType().IsRecognizedStore() {
				findings = append(findings, models.RawFinding{
					Type:        models.FindingVersionRollbackTrusted,
					Severity:    models.SeverityMedium,
					Title:       "Version rollback via trusted store",
					Description: a.Description,
				})
			} else {
				findings = append(findings, models.RawFinding{
					Type:        models.FindingVersionRollback,
					Severity:    models.SeverityHigh,
					Title:       "Version rollback",
					Description: a.Description,
				})
			}
		case models.AnomalyVersionChanged:
			findings = append(findings, models.RawFinding{
				Type:        models.FindingVersionChanged,
				Severity:    models.SeverityLow,
				Title:       "App updated",
				Description: a.Description,
			})
		case models.AnomalyInstallerChanged:
			findings = append(findings, models.RawFinding{
				Type:        models.FindingInstallerChanged,
				Severity:    models.SeverityMedium,
				Title:       "Installer changed",
				Description: a.Description,
			})
		case models.AnomalyPartitionChanged:
			findings = append(findings, models.RawFinding{
				Type:        models.FindingPartitionChanged,
				Severity:    models.SeverityMedium,
				Title:       "Install partition changed",
				Description: a.Description,
			})
		case models.AnomalyPermissionSetChanged:
			findings = append(findings, models.RawFinding{
				Type:        models.FindingPermissionSetChanged,
				Severity:    models.SeverityLow,
				Title:       "Permission set changed",
				Description: a.Description,
			})
		case models.AnomalyHighRiskPermissionAdded:
			findings = append(findings, models.RawFinding{
				Type:        models.FindingHighRiskPermissionAdded,
				Severity:    models.SeverityHigh,
				Title:       "High-risk permission granted",
				Description: a.Description,
			})
		case models.AnomalyExportedSurfaceIncreased:
			findings = append(findings, models.RawFinding{
				Type:        models.FindingExportedSurfaceIncreased,
				Severity:    a.Severity,
				Title:       "Exported surface increased",
				Description: a.Description,
			})
		case models.AnomalyNewSystemApp:
			findings = append(findings, models.RawFinding{
				Type:        models.FindingNewSystemApp,
				Severity:    models.SeverityMedium,
				Title:       "New system app",
				Description: a.Description,
			})
		}
	}
	return findings
}

// Static finding thresholds
const (
	minModernTargetSDK     = 28
	overPrivilegedMinPerms = 3
	exportedComponentsMin  = 5
)

// staticFindings derives findings from the current evidence alone, with no
// baseline involved
func (s *ScanService) staticFindings(app models.ScannedAppEvidence, trust models.TrustEvidence, cmp models.BaselineComparison) []models.RawFinding {
	var findings []models.RawFinding

	if trust.CertMatch == models.CertMismatch {
		findings = append(findings, models.RawFinding{
			Type:        models.FindingCertMismatch,
			Severity:    models.SeverityCritical,
			Title:       "Certificate does not match whitelist",
			Description: "the observed signing certificate differs from the pinned certificate for this package",
		})
	}

	if cmp.IsFirstScan && !app.IsSystemApp {
		findings = append(findings, models.RawFinding{
			Type:        models.FindingNewInstall,
			Severity:    models.SeverityLow,
			Title:       "Newly installed app",
			Description: "first time this package has been observed on the device",
		})
	}

	installer := app.InstallerType()
	if installer == models.InstallerSideloaded || installer == models.InstallerUnknown {
		if trust.CertMatch == models.CertDeveloperMatch || trust.CertMatch == models.CertAppMatch {
			findings = append(findings, models.RawFinding{
				Type:        models.FindingVerifiedSideload,
				Severity:    models.SeverityLow,
				Title:       "Sideloaded but certificate verified",
				Description: "installed outside a recognized store, signing certificate matches the whitelist",
			})
		} else if !app.IsSystemApp {
			findings = append(findings, models.RawFinding{
				Type:        models.FindingNotPlaySigned,
				Severity:    models.SeverityLow,
				Title:       "Not from a recognized store",
				Description: "installed outside any recognized distribution channel",
			})
		}
	}

	if app.IsDebugSigned {
		findings = append(findings, models.RawFinding{
			Type:        models.FindingDebugSigned,
			Severity:    models.SeverityMedium,
			Title:       "Debug-signed build",
			Description: "the app is signed with a debug certificate",
		})
	}

	for _, lib := range app.NativeLibFindings {
		if lib.IsSuspicious {
			findings = append(findings, models.RawFinding{
				Type:        models.FindingSuspiciousNativeLib,
				Severity:    models.SeverityMedium,
				Title:       "Suspicious native library: " + lib.Name,
				Description: lib.SuspicionType,
			})
		}
	}

	if app.TargetSDK > 0 && app.TargetSDK < minModernTargetSDK {
		findings = append(findings, models.RawFinding{
			Type:        models.FindingOldTargetSDK,
			Severity:    models.SeverityLow,
			Title:       "Outdated target SDK",
			Description: fmt.Sprintf("targets SDK %d, below the modern enforcement baseline", app.TargetSDK),
		})
	}

	if !app.IsSystemApp && len(models.HighRiskPermissionsOf(app.GrantedPermissions)) >= overPrivilegedMinPerms {
		findings = append(findings, models.RawFinding{
			Type:        models.FindingOverPrivileged,
			Severity:    models.SeverityMedium,
			Title:       "Over-privileged app",
			Description: "holds several high-risk permissions at once",
		})
	}

	if app.UnprotectedExportedCount >= exportedComponentsMin {
		findings = append(findings, models.RawFinding{
			Type:        models.FindingExportedComponents,
			Severity:    models.SeverityLow,
			Title:       "Large unprotected exported surface",
			Description: fmt.Sprintf("%d exported components without permission protection", app.UnprotectedExportedCount),
		})
	}

	if app.HasBootReceiver && !app.IsSystemApp {
		findings = append(findings, models.RawFinding{
			Type:        models.FindingBootPersistence,
			Severity:    models.SeverityLow,
			Title:       "Starts at boot",
			Description: "registers a boot-completed receiver",
		})
	}

	if app.UsesDynamicCodeLoading {
		findings = append(findings, models.RawFinding{
			Type:        models.FindingDynamicCodeLoading,
			Severity:    models.SeverityLow,
			Title:       "Dynamic code loading",
			Description: "loads executable code at runtime",
		})
	}

	return findings
}

// anomalySignalTypes maps baseline anomalies to pipeline signals
var anomalySignalTypes = map[models.AnomalyType]models.SignalType{
	models.AnomalyCertChanged:              models.SignalCertChanged,
	models.AnomalyVersionRollback:          models.SignalVersionRollback,
	models.AnomalyInstallerChanged:         models.SignalInstallerChanged,
	models.AnomalyPartitionChanged:         models.SignalPartitionChanged,
	models.AnomalyPermissionSetChanged:     models.SignalPermissionSetChanged,
	models.AnomalyHighRiskPermissionAdded:  models.SignalPermissionAdded,
	models.AnomalyExportedSurfaceIncreased: models.SignalSurfaceIncreased,
	models.AnomalyNewSystemApp:             models.SignalNewSystemApp,
}

// appSignals emits the per-app signals for the event pipeline
func (s *ScanService) appSignals(app models.ScannedAppEvidence, cmp models.BaselineComparison, trust models.TrustEvidence, access models.AppSpecialAccess, isNewApp bool, observedAt time.Time) []models.SecuritySignal {
	var signals []models.SecuritySignal

	for _, a := range cmp.Anomalies {
		t, ok := anomalySignalTypes[a.Type]
		if !ok {
			continue
		}
		signals = append(signals, models.SecuritySignal{
			Type:        t,
			PackageName: app.PackageName,
			Severity:    a.Severity,
			Message:     a.Description,
			ObservedAt:  observedAt,
			Details:     a.Details,
		})
	}

	if cmp.IsFirstScan && trust.InstallerType == models.InstallerSideloaded {
		signals = append(signals, models.SecuritySignal{
			Type:        models.SignalSideloadInstall,
			PackageName: app.PackageName,
			Severity:    models.SeverityMedium,
			Message:     "new app installed outside any recognized store",
			ObservedAt:  observedAt,
		})
	}

	if isNewApp && access.Any() {
		signals = append(signals, models.SecuritySignal{
			Type:        models.SignalSpecialAccessEnabled,
			PackageName: app.PackageName,
			Severity:    models.SeverityMedium,
			Message:     "special access enabled for a recently installed app",
			ObservedAt:  observedAt,
		})
	}

	return signals
}

// deviceSignals emits the packageless configuration signals
func (s *ScanService) deviceSignals(cfg models.ConfigSnapshot, observedAt time.Time) []models.SecuritySignal {
	var signals []models.SecuritySignal

	for _, fp := range cfg.UserCACertFingerprints {
		signals = append(signals, models.SecuritySignal{
			Type:       models.SignalCACertAdded,
			Severity:   models.SeverityMedium,
			Message:    "user-added CA certificate present",
			ObservedAt: observedAt,
			Details:    map[string]string{"fingerprint": fp},
		})
	}

	if cfg.USBDebuggingEnabled {
		signals = append(signals, models.SecuritySignal{
			Type:       models.SignalConfigTampered,
			Severity:   models.SeverityMedium,
			Message:    "USB debugging is enabled",
			ObservedAt: observedAt,
		})
	}
	if cfg.UnknownSourcesAllowed {
		signals = append(signals, models.SecuritySignal{
			Type:       models.SignalConfigTampered,
			Severity:   models.SeverityMedium,
			Message:    "installs from unknown sources are allowed",
			ObservedAt: observedAt,
		})
	}
	if cfg.DeveloperOptionsEnabled {
		signals = append(signals, models.SecuritySignal{
			Type:       models.SignalConfigTampered,
			Severity:   models.SeverityLow,
			Message:    "developer options are enabled",
			ObservedAt: observedAt,
		})
	}

	return signals
}

const removedBaselinePageSize = 500

// removedBaselines diffs the stored baselines against the packages in this
// device snapshot. The snapshot is the full app list, so any baselined
// package missing from it was uninstalled since its last scan.
func (s *ScanService) removedBaselines(ctx context.Context, apps []models.ScannedAppEvidence) []models.BaselineComparison {
	present := make(map[string]bool, len(apps))
	for _, app := range apps {
		present[app.PackageName] = true
	}

	var removed []models.BaselineComparison
	for offset := 0; ; offset += removedBaselinePageSize {
		page, _, err := s.stores.Baselines.List(ctx, removedBaselinePageSize, offset)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to list baselines for removal check")
			return removed
		}
		removed = append(removed, s.baselines.Removed(page, present)...)
		if len(page) < removedBaselinePageSize {
			break
		}
	}

	for _, cmp := range removed {
		s.logger.Info().Str("package", cmp.PackageName).Msg("baselined package no longer on device")
	}
	return removed
}

func (s *ScanService) analyzeTimelines(vectors map[string]models.AppFeatureVector, events []models.SecurityEvent) map[string]models.TimelineResult {
	byPackage := make(map[string][]models.SecurityEvent)
	for _, ev := range events {
		if ev.PackageName != "" {
			byPackage[ev.PackageName] = append(byPackage[ev.PackageName], ev)
		}
	}

	inputs := make([]TimelineInput, 0, len(vectors))
	for _, v := range vectors {
		inputs = append(inputs, TimelineInput{Vector: v, Events: byPackage[v.PackageName]})
	}

	results := make(map[string]models.TimelineResult)
	for _, r := range s.timeline.AnalyzeAll(inputs) {
		results[r.PackageName] = r
	}
	return results
}

func (s *ScanService) summarize(report *DeviceScanReport, incidentCount int) ScanSummary {
	summary := ScanSummary{
		AppsScanned: len(report.Apps),
		Removed:     len(report.Removed),
		Incidents:   incidentCount,
	}
	for _, app := range report.Apps {
		switch app.Verdict.EffectiveRisk {
		case models.RiskCritical:
			summary.Critical++
		case models.RiskNeedsAttention:
			summary.NeedsAttention++
		case models.RiskInfo:
			summary.Info++
		default:
			summary.Safe++
		}
		if app.Comparison.IsFirstScan {
			summary.NewBaselines++
		}
	}
	return summary
}

// keyedMutex hands out one mutex per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock locks the key's mutex and returns the unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
