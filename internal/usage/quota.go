package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sdko-org/visitor-beacon/internal/models"
)

var ErrLimitExceeded = errors.New("usage limit exceeded")

// WarningPercent is the monthly usage share that triggers an advisory notice.
const WarningPercent = 80

type LimitError struct {
	Summary Summary
	Reasons []string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLimitExceeded, strings.Join(e.Reasons, ", "))
}

func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}

// Alerter receives owner-facing quota notices. Implementations must not block.
type Alerter interface {
	Alert(project *models.Project, kind, title, message string)
}

type Enforcer struct {
	agg     *Aggregator
	alerter Alerter
}

func NewEnforcer(agg *Aggregator, alerter Alerter) *Enforcer {
	return &Enforcer{agg: agg, alerter: alerter}
}

// Check compares current usage against the project's plan. Notices fire on
// every check that crosses a threshold; repeated checks repeat them.
func (e *Enforcer) Check(ctx context.Context, project *models.Project) (Summary, error) {
	s, err := e.agg.Summary(ctx, project)
	if err != nil {
		return s, err
	}

	var reasons []string

	if s.StorageLimit > 0 && s.StorageBytes >= s.StorageLimit {
		reasons = append(reasons, "storage")
		e.alert(project, models.NotificationStorageFull, "Storage full",
			fmt.Sprintf("%s has used its %d MB storage allowance. New visits are no longer recorded.", project.Name, s.StorageLimit>>20))
	}

	switch {
	case s.MonthlyViews >= s.MonthlyLimit:
		reasons = append(reasons, "monthly views")
		e.alert(project, models.NotificationLimitReached, "Monthly limit reached",
			fmt.Sprintf("%s reached %d of %d monthly views for %s. Upgrade your plan to keep tracking.", project.Name, s.MonthlyViews, s.MonthlyLimit, s.Month))
	case s.MonthlyViews*100 >= s.MonthlyLimit*WarningPercent:
		e.alert(project, models.NotificationUsageWarning, "Approaching monthly limit",
			fmt.Sprintf("%s has used %.0f%% of its monthly views for %s.", project.Name, s.MonthlyPercent(), s.Month))
	}

	if len(reasons) > 0 {
		return s, &LimitError{Summary: s, Reasons: reasons}
	}
	return s, nil
}

func (e *Enforcer) alert(project *models.Project, kind, title, message string) {
	if e.alerter != nil {
		e.alerter.Alert(project, kind, title, message)
	}
}
