// Package ingest runs a beacon through the gates that decide whether it
// counts, then does the bookkeeping for accepted visits.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/sdko-org/visitor-beacon/internal/activity"
	"github.com/sdko-org/visitor-beacon/internal/beacon"
	"github.com/sdko-org/visitor-beacon/internal/dedup"
	"github.com/sdko-org/visitor-beacon/internal/enrich"
	"github.com/sdko-org/visitor-beacon/internal/metrics"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sdko-org/visitor-beacon/internal/realtime"
	"github.com/sdko-org/visitor-beacon/internal/sessions"
	"github.com/sdko-org/visitor-beacon/internal/tasks"
	"github.com/sdko-org/visitor-beacon/internal/tenant"
	"github.com/sdko-org/visitor-beacon/internal/usage"
	"github.com/sirupsen/logrus"
)

type Surface string

const (
	// SurfaceBeacon is the public, unauthenticated snippet endpoint.
	SurfaceBeacon Surface = "beacon"
	// SurfaceInternal is called by an authenticated project owner.
	SurfaceInternal Surface = "internal"
)

type Request struct {
	Surface    Surface
	TrackingID string
	Event      beacon.Event
	IP         string
	UserAgent  string
	Header     http.Header
	// ActorID is the authenticated caller on the internal surface.
	ActorID   *uint
	RequestID string
}

type Result struct {
	Accepted  bool
	Duplicate bool
	Bot       bool
	Visitor   *models.Visitor
	Usage     *usage.Summary
}

// Observer receives one outcome per processed beacon.
type Observer interface {
	ObserveBeacon(surface, outcome string, elapsed time.Duration)
}

type Deps struct {
	Dedup     dedup.Store
	Tenants   *tenant.Resolver
	Quota     *usage.Enforcer
	Usage     *usage.Aggregator
	Enricher  *enrich.Enricher
	Sessions  *sessions.Recorder
	Activity  *activity.Log
	Publisher realtime.Publisher
	Tasks     tasks.Dispatcher
	Alerter   usage.Alerter
	Clock     quartz.Clock
	Observer  Observer
}

type Options struct {
	BeaconTTL   time.Duration
	InternalTTL time.Duration
}

type Pipeline struct {
	Deps
	log   *logrus.Entry
	guard tenant.OriginGuard
	ttl   map[Surface]time.Duration
}

func NewPipeline(logger *logrus.Logger, deps Deps, opts Options) *Pipeline {
	if opts.BeaconTTL <= 0 {
		opts.BeaconTTL = 5 * time.Second
	}
	if opts.InternalTTL <= 0 {
		opts.InternalTTL = 2 * time.Second
	}
	return &Pipeline{
		Deps: deps,
		log:  logger.WithField("component", "ingest"),
		ttl: map[Surface]time.Duration{
			SurfaceBeacon:   opts.BeaconTTL,
			SurfaceInternal: opts.InternalTTL,
		},
	}
}

// Process short-circuits at the first gate that filters or rejects the
// beacon. Only tenant, ownership, origin and quota gates return errors; every
// later step degrades to a log line.
func (p *Pipeline) Process(ctx context.Context, req Request) (res Result, err error) {
	start := p.Clock.Now()
	defer func() {
		if p.Observer != nil {
			p.Observer.ObserveBeacon(string(req.Surface), outcome(res, err), p.Clock.Since(start))
		}
	}()

	logEntry := p.log.WithFields(logrus.Fields{
		"surface":     req.Surface,
		"tracking_id": req.TrackingID,
		"client_ip":   req.IP,
		"request_id":  req.RequestID,
	})

	if beacon.IsBot(req.UserAgent, req.Header) {
		logEntry.WithField("user_agent", req.UserAgent).Debug("Ignoring bot")
		return Result{Bot: true}, nil
	}

	fingerprint := beacon.Fingerprint(req.IP, req.UserAgent, req.TrackingID)
	duplicate, err := p.Dedup.CheckAndMark(ctx, fingerprint, p.ttl[req.Surface])
	if err != nil {
		logEntry.WithError(err).Warn("Dedup check failed, continuing")
	}
	if duplicate {
		return Result{Duplicate: true}, nil
	}

	project, err := p.Tenants.Resolve(ctx, req.TrackingID)
	if errors.Is(err, tenant.ErrNotFound) {
		return Result{}, policy(CodeInvalidTrackingID, err)
	}
	if err != nil {
		logEntry.WithError(err).Error("Tenant lookup failed")
		return Result{}, policy(CodeServiceUnavailable, err)
	}
	logEntry = logEntry.WithField("project_id", project.ID)

	if req.Surface == SurfaceInternal && (req.ActorID == nil || *req.ActorID != project.OwnerID) {
		return Result{}, policy(CodeForbidden, nil)
	}

	if !project.IsActive {
		p.appendActivity(ctx, logEntry, project, req, models.ActionVisitorBlocked, models.StatusBlocked,
			"Visit blocked: project is disabled", http.StatusForbidden, start)
		return Result{}, policy(CodeProjectDisabled, nil)
	}

	if req.Surface == SurfaceBeacon {
		if err := p.checkOrigin(ctx, logEntry, project, req, start); err != nil {
			return Result{}, err
		}
	}

	summary, quotaErr := p.Quota.Check(ctx, project)
	var limitErr *usage.LimitError
	switch {
	case errors.As(quotaErr, &limitErr):
		p.appendActivity(ctx, logEntry, project, req, models.ActionLimitExceeded, models.StatusWarning,
			fmt.Sprintf("Visit rejected: %s limit reached", limitErr.Reasons[0]), http.StatusForbidden, start)
		perr := policy(CodeLimitExceeded, quotaErr)
		perr.Usage = &limitErr.Summary
		return Result{}, perr
	case quotaErr != nil:
		logEntry.WithError(quotaErr).Warn("Usage check failed, allowing visit")
	}

	enriched := p.Enricher.Enrich(ctx, req.IP, req.UserAgent)

	if err := p.Usage.RecordView(ctx, project.ID); err != nil {
		logEntry.WithError(err).Warn("Failed to update usage counters")
	}

	sessionID := req.Event.SessionID
	if sessionID == "" {
		sessionID = beacon.SessionFromFingerprint(fingerprint)
	}
	visitor, err := p.Sessions.Record(ctx, sessions.Visit{
		ProjectID: project.ID,
		SessionID: sessionID,
		IP:        req.IP,
		PageURL:   req.Event.PageURL,
		Title:     req.Event.Title,
		Referrer:  req.Event.Referrer,
		Enriched:  enriched,
	})
	if err != nil {
		logEntry.WithError(err).Warn("Failed to record session")
	}

	action, detail := models.ActionVisitorView, "Page view on "+req.Event.PageURL
	if visitor != nil && visitor.IsNew() {
		action, detail = models.ActionVisitorNew, fmt.Sprintf("New visitor from %s, %s", enriched.Location.City, enriched.Location.Country)
	}
	p.appendActivity(ctx, logEntry, project, req, action, models.StatusSuccess, detail, http.StatusOK, start)

	p.publishVisit(project, visitor)

	res = Result{Accepted: true, Visitor: visitor}
	if quotaErr == nil {
		// The snapshot predates this visit.
		summary.TotalViews++
		summary.MonthlyViews++
		res.Usage = &summary
	}
	return res, nil
}

func (p *Pipeline) checkOrigin(ctx context.Context, logEntry *logrus.Entry, project *models.Project, req Request, start time.Time) error {
	decision := p.guard.Check(project, req.Header.Get("Origin"), req.Header.Get("Referer"))
	if decision.Allowed {
		return nil
	}

	host := decision.Host
	if host == "" {
		host = "an unrecognised origin"
	}
	logEntry.WithField("origin", host).Warn("Blocked beacon from disallowed origin")

	if p.Alerter != nil {
		p.Alerter.Alert(project, models.NotificationSecurityAlert, "Blocked tracking request",
			fmt.Sprintf("A tracking request for %s came from %s, which is not in the allowed origins.", project.Name, host))
	}
	p.appendActivity(ctx, logEntry, project, req, models.ActionSecurityAlert, models.StatusBlocked,
		"Blocked request from origin "+host, http.StatusForbidden, start)
	return policy(CodeOriginNotAllowed, nil)
}

func (p *Pipeline) appendActivity(ctx context.Context, logEntry *logrus.Entry, project *models.Project, req Request, action, status, detail string, code int, start time.Time) {
	_, err := p.Activity.Append(ctx, activity.Entry{
		ProjectID: project.ID,
		OwnerID:   project.OwnerID,
		ActorID:   req.ActorID,
		Action:    action,
		Detail:    detail,
		Status:    status,
		IP:        req.IP,
		Metadata: map[string]interface{}{
			"resource":    req.Event.PageURL,
			"method":      http.MethodPost,
			"status_code": code,
			"latency_ms":  p.Clock.Since(start).Milliseconds(),
			"session_id":  req.Event.SessionID,
			"request_id":  req.RequestID,
		},
	})
	if err != nil {
		logEntry.WithError(err).WithField("action", action).Warn("Failed to append activity")
	}
}

func (p *Pipeline) publishVisit(project *models.Project, visitor *models.Visitor) {
	channel := realtime.UserChannel(project.OwnerID)
	if visitor != nil {
		v := *visitor
		p.Tasks.Dispatch("realtime.visitor_update", func(ctx context.Context) error {
			return p.Publisher.Publish(ctx, channel, realtime.EventVisitorUpdate, v)
		})
	}
	p.Tasks.Dispatch("realtime.usage_update", func(ctx context.Context) error {
		report, err := p.report(ctx, project)
		if err != nil {
			return err
		}
		return p.Publisher.Publish(ctx, channel, realtime.EventUsageUpdate, report)
	})
}

// UsageReport is the usage_update payload and the body of the owner's usage
// endpoint.
type UsageReport struct {
	usage.Summary
	ActiveVisitors int64 `json:"active_visitors"`
}

// Report builds the usage report for a project the caller owns. Projects
// owned by someone else are reported as tenant.ErrNotFound.
func (p *Pipeline) Report(ctx context.Context, ownerID, projectID uint) (*UsageReport, error) {
	project, err := p.Tenants.ByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, tenant.ErrNotFound
	}
	return p.report(ctx, project)
}

func (p *Pipeline) report(ctx context.Context, project *models.Project) (*UsageReport, error) {
	summary, err := p.Usage.Summary(ctx, project)
	if err != nil {
		return nil, err
	}
	active, err := p.Sessions.ActiveVisitors(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("count active visitors: %w", err)
	}
	return &UsageReport{Summary: summary, ActiveVisitors: active}, nil
}

// Count returns the lifetime total for a tracking id.
func (p *Pipeline) Count(ctx context.Context, trackingID string) (int64, error) {
	project, err := p.Tenants.Resolve(ctx, trackingID)
	if errors.Is(err, tenant.ErrNotFound) {
		return 0, policy(CodeInvalidTrackingID, err)
	}
	if err != nil {
		return 0, policy(CodeServiceUnavailable, err)
	}
	return p.Usage.TotalViews(ctx, project.ID)
}

func outcome(res Result, err error) string {
	var perr *PolicyError
	switch {
	case errors.As(err, &perr):
		return perr.Code
	case err != nil:
		return metrics.OutcomeError
	case res.Bot:
		return metrics.OutcomeBot
	case res.Duplicate:
		return metrics.OutcomeDuplicate
	default:
		return metrics.OutcomeAccepted
	}
}
