package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ruletrace/internal/audit"
	"ruletrace/internal/workingmem"
	dErrors "ruletrace/pkg/domain-errors"
	"ruletrace/pkg/platform/sentinel"
	"ruletrace/pkg/requestcontext"
)

// IntegrityStatus summarizes a validation pass. ValidationError means the
// scan itself failed, not that issues were found.
type IntegrityStatus string

const (
	IntegrityPass   IntegrityStatus = "PASS"
	IntegrityIssues IntegrityStatus = "ISSUES_FOUND"
)

// Issue types reported by ValidateIntegrity.
const (
	IssueFeedbackWithoutRules = "feedback_without_rules"
	IssueEmptySourceSet       = "empty_source_set"
	IssueBrokenLink           = "broken_link"
)

// IntegrityIssue is one detected inconsistency between the tiers.
type IntegrityIssue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// IntegrityStats counts the population each check walked.
type IntegrityStats struct {
	TotalCaseEntries     int `json:"total_case_entries"`
	TotalRules           int `json:"total_rules"`
	FeedbackWithoutRules int `json:"feedback_without_rules"`
	EmptySourceSets      int `json:"empty_source_sets"`
	BrokenLinks          int `json:"broken_links"`
}

// IntegrityReport is the result of one validation pass.
type IntegrityReport struct {
	Status      IntegrityStatus  `json:"integrity_status"`
	Statistics  IntegrityStats   `json:"statistics"`
	Issues      []IntegrityIssue `json:"issues"`
	ValidatedAt time.Time        `json:"validated_at"`
}

// ValidateIntegrity sweeps both tiers for inconsistencies: reviewed cases
// that produced no rules, rules with no source evidence, and rule source
// references that have expired out of working memory. The two tier scans run
// concurrently. Findings are reported, never repaired here; an expired source
// is expected decay, so broken links downgrade the report without failing it.
func (s *Service) ValidateIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{
		Issues:      []IntegrityIssue{},
		ValidatedAt: time.Now().UTC(),
	}

	var (
		wmIssues    []IntegrityIssue
		graphIssues []IntegrityIssue
		wmStats     IntegrityStats
		graphStats  IntegrityStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wmIssues, wmStats, err = s.scanWorkingMemory(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		graphIssues, graphStats, err = s.scanRuleGraph(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "integrity validation failed")
	}

	report.Issues = append(report.Issues, wmIssues...)
	report.Issues = append(report.Issues, graphIssues...)
	report.Statistics = IntegrityStats{
		TotalCaseEntries:     wmStats.TotalCaseEntries,
		TotalRules:           graphStats.TotalRules,
		FeedbackWithoutRules: wmStats.FeedbackWithoutRules,
		EmptySourceSets:      graphStats.EmptySourceSets,
		BrokenLinks:          graphStats.BrokenLinks,
	}

	report.Status = IntegrityPass
	if len(report.Issues) > 0 {
		report.Status = IntegrityIssues
	}

	s.metrics.SetIntegrityIssues(IssueFeedbackWithoutRules, report.Statistics.FeedbackWithoutRules)
	s.metrics.SetIntegrityIssues(IssueEmptySourceSet, report.Statistics.EmptySourceSets)
	s.metrics.SetIntegrityIssues(IssueBrokenLink, report.Statistics.BrokenLinks)
	return report, nil
}

// scanWorkingMemory flags reviewed cases whose review never generalized into
// a rule. The rule graph's reverse edge is the authority, not the cached
// link set.
func (s *Service) scanWorkingMemory(ctx context.Context) ([]IntegrityIssue, IntegrityStats, error) {
	var stats IntegrityStats

	entries, err := s.wm.List(ctx, workingmem.Filter{})
	if err != nil {
		return nil, stats, err
	}
	stats.TotalCaseEntries = len(entries)

	var issues []IntegrityIssue
	for _, entry := range entries {
		if !entry.HasFeedback() {
			continue
		}
		rules, err := s.graph.RulesBySourceCase(ctx, entry.CaseID)
		if err != nil {
			return nil, stats, err
		}
		if len(rules) == 0 {
			stats.FeedbackWithoutRules++
			issues = append(issues, IntegrityIssue{
				Type:        IssueFeedbackWithoutRules,
				Description: fmt.Sprintf("case %s has reviewer feedback but no derived rules", entry.CaseID),
			})
		}
	}
	return issues, stats, nil
}

// scanRuleGraph flags rules with no source evidence and source references
// that no longer resolve in working memory.
func (s *Service) scanRuleGraph(ctx context.Context) ([]IntegrityIssue, IntegrityStats, error) {
	var stats IntegrityStats

	rules, err := s.graph.All(ctx)
	if err != nil {
		return nil, stats, err
	}
	stats.TotalRules = len(rules)

	var issues []IntegrityIssue
	for _, rule := range rules {
		if len(rule.SourceCases) == 0 {
			stats.EmptySourceSets++
			issues = append(issues, IntegrityIssue{
				Type:        IssueEmptySourceSet,
				Description: fmt.Sprintf("rule %s has no source cases", rule.RuleID),
			})
			continue
		}
		for _, caseID := range rule.SourceCases {
			_, err := s.wm.Get(ctx, caseID)
			if errors.Is(err, sentinel.ErrNotFound) {
				stats.BrokenLinks++
				issues = append(issues, IntegrityIssue{
					Type:        IssueBrokenLink,
					Description: fmt.Sprintf("rule %s references case %s which is no longer in working memory", rule.RuleID, caseID),
				})
				continue
			}
			if err != nil {
				return nil, stats, err
			}
		}
	}
	return issues, stats, nil
}

// CleanupReport is the result of one cleanup pass.
type CleanupReport struct {
	CleanedLinks int       `json:"cleaned_links"`
	CleanedAt    time.Time `json:"cleaned_at"`
}

// CleanupBrokenLinks removes working-memory link-set entries pointing at
// rules that no longer exist in the graph. Only the cache side is touched:
// rule source references to expired cases are legitimate history and stay.
func (s *Service) CleanupBrokenLinks(ctx context.Context) (*CleanupReport, error) {
	entries, err := s.wm.List(ctx, workingmem.Filter{})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list case entries")
	}

	report := &CleanupReport{CleanedAt: time.Now().UTC()}
	for _, entry := range entries {
		links, err := s.wm.RuleLinks(ctx, entry.CaseID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule links")
		}
		for _, ruleID := range links {
			_, err := s.graph.Get(ctx, ruleID)
			if err == nil {
				continue
			}
			if !errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule")
			}
			removed, err := s.wm.RemoveRuleLink(ctx, entry.CaseID, ruleID)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove broken link")
			}
			if removed {
				report.CleanedLinks++
				s.metrics.IncrementLinkOperation("cleaned")
				s.logger.InfoContext(ctx, "removed broken working-memory link",
					"request_id", requestcontext.RequestID(ctx),
					"case_id", entry.CaseID.String(),
					"rule_id", ruleID.String(),
				)
			}
		}
	}

	if report.CleanedLinks > 0 {
		s.record(ctx, audit.Event{
			Action: audit.ActionLinksCleaned,
			Detail: fmt.Sprintf("removed %d broken links", report.CleanedLinks),
		})
	}
	return report, nil
}
