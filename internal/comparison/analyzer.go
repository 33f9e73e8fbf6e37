package comparison

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/pkg/models"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Analyzer compares two copies of the order collection, typically the same
// data held by two storage backends.
type Analyzer struct {
	logger *logrus.Logger
}

type Result struct {
	Analysis        Analysis        `json:"analysis"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Statistics      Statistics      `json:"statistics"`
	Recommendations []string        `json:"recommendations"`
	Timestamp       time.Time       `json:"timestamp"`
}

type Analysis struct {
	TotalSource     int        `json:"total_source"`
	TotalTarget     int        `json:"total_target"`
	PerfectMatches  int        `json:"perfect_matches"`
	PartialMatches  int        `json:"partial_matches"`
	MissingInTarget []string   `json:"missing_in_target"`
	MissingInSource []string   `json:"missing_in_source"`
	Mismatches      []Mismatch `json:"mismatches"`
	SyncPercentage  float64    `json:"sync_percentage"`
	OverallStatus   string     `json:"overall_status"`
}

type Mismatch struct {
	OrderID     string      `json:"order_id"`
	Field       string      `json:"field"`
	SourceValue interface{} `json:"source_value"`
	TargetValue interface{} `json:"target_value"`
}

type Inconsistency struct {
	OrderID     string `json:"order_id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Field       string `json:"field,omitempty"`
	Description string `json:"description"`
}

type Statistics struct {
	ConsistencyScore float64       `json:"consistency_score"`
	CriticalIssues   int           `json:"critical_issues"`
	WarningIssues    int           `json:"warning_issues"`
	ProcessingTime   time.Duration `json:"processing_time"`
}

func NewAnalyzer(logger *logrus.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

func index(orders []models.Order) map[string]*models.Order {
	m := make(map[string]*models.Order, len(orders))
	for i := range orders {
		m[orders[i].ID] = &orders[i]
	}
	return m
}

func (a *Analyzer) Compare(source, target []models.Order) *Result {
	start := time.Now()

	a.logger.WithFields(logrus.Fields{
		"source_count": len(source),
		"target_count": len(target),
	}).Info("Starting order comparison")

	sourceMap, targetMap := index(source), index(target)
	result := &Result{
		Analysis:        a.analyze(sourceMap, targetMap),
		Inconsistencies: []Inconsistency{},
		Timestamp:       start.UTC(),
	}

	for _, id := range result.Analysis.MissingInTarget {
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			OrderID:     id,
			Type:        "missing_in_target",
			Severity:    SeverityCritical,
			Description: "Order exists in source but not in target",
		})
	}
	for _, id := range result.Analysis.MissingInSource {
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			OrderID:     id,
			Type:        "missing_in_source",
			Severity:    SeverityWarning,
			Description: "Order exists only in target",
		})
	}
	for _, m := range result.Analysis.Mismatches {
		severity := SeverityCritical
		if m.Field == "status" {
			severity = SeverityWarning
		}
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			OrderID:     m.OrderID,
			Type:        "field_mismatch",
			Severity:    severity,
			Field:       m.Field,
			Description: fmt.Sprintf("%s differs: %v vs %v", m.Field, m.SourceValue, m.TargetValue),
		})
	}

	result.Statistics = statistics(result, time.Since(start))
	result.Recommendations = recommendations(result)

	a.logger.WithFields(logrus.Fields{
		"inconsistencies":   len(result.Inconsistencies),
		"consistency_score": result.Statistics.ConsistencyScore,
	}).Info("Order comparison completed")

	return result
}

func (a *Analyzer) analyze(sourceMap, targetMap map[string]*models.Order) Analysis {
	analysis := Analysis{
		TotalSource:     len(sourceMap),
		TotalTarget:     len(targetMap),
		MissingInTarget: []string{},
		MissingInSource: []string{},
		Mismatches:      []Mismatch{},
	}

	ids := make([]string, 0, len(sourceMap)+len(targetMap))
	for id := range sourceMap {
		ids = append(ids, id)
	}
	for id := range targetMap {
		if _, ok := sourceMap[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		source, inSource := sourceMap[id]
		target, inTarget := targetMap[id]
		switch {
		case !inSource:
			analysis.MissingInSource = append(analysis.MissingInSource, id)
		case !inTarget:
			analysis.MissingInTarget = append(analysis.MissingInTarget, id)
		default:
			mismatches := compareFields(source, target)
			if len(mismatches) == 0 {
				analysis.PerfectMatches++
			} else {
				analysis.PartialMatches++
				analysis.Mismatches = append(analysis.Mismatches, mismatches...)
			}
		}
	}

	if len(ids) == 0 {
		analysis.SyncPercentage = 100
	} else {
		analysis.SyncPercentage = float64(analysis.PerfectMatches) / float64(len(ids)) * 100
	}

	switch {
	case analysis.SyncPercentage >= 99.99:
		analysis.OverallStatus = "in_sync"
	case analysis.SyncPercentage >= 95:
		analysis.OverallStatus = "good"
	case analysis.SyncPercentage >= 70:
		analysis.OverallStatus = "fair"
	default:
		analysis.OverallStatus = "poor"
	}
	return analysis
}

func compareFields(source, target *models.Order) []Mismatch {
	var mismatches []Mismatch
	add := func(field string, s, t interface{}) {
		mismatches = append(mismatches, Mismatch{OrderID: source.ID, Field: field, SourceValue: s, TargetValue: t})
	}

	if source.UserID != target.UserID {
		add("user_id", source.UserID, target.UserID)
	}
	if !source.TotalAmount.Equal(target.TotalAmount) {
		add("total_amount", source.TotalAmount.String(), target.TotalAmount.String())
	}
	if source.Status != target.Status {
		add("status", source.Status, target.Status)
	}
	if len(source.Items) != len(target.Items) {
		add("items_count", len(source.Items), len(target.Items))
	}
	if source.DeliveryDate != target.DeliveryDate {
		add("delivery_date", source.DeliveryDate, target.DeliveryDate)
	}
	return mismatches
}

func statistics(result *Result, elapsed time.Duration) Statistics {
	stats := Statistics{ProcessingTime: elapsed, ConsistencyScore: result.Analysis.SyncPercentage}
	for _, inconsistency := range result.Inconsistencies {
		switch inconsistency.Severity {
		case SeverityCritical:
			stats.CriticalIssues++
		case SeverityWarning:
			stats.WarningIssues++
		}
	}
	return stats
}

func recommendations(result *Result) []string {
	var out []string
	if n := len(result.Analysis.MissingInTarget); n > 0 {
		out = append(out, fmt.Sprintf("Copy %d missing orders to the target backend", n))
	}
	if n := len(result.Analysis.MissingInSource); n > 0 {
		out = append(out, fmt.Sprintf("%d orders exist only in the target; check for writes after the copy", n))
	}
	if len(result.Analysis.Mismatches) > 0 {
		out = append(out, "Re-run the migration with overwrite to replace diverged orders")
	}
	if len(out) == 0 {
		out = append(out, "Backends are in sync")
	}
	return out
}

func (a *Analyzer) GenerateReport(result *Result, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(result, "", "  ")
	case "summary":
		return summaryReport(result), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func summaryReport(result *Result) []byte {
	report := fmt.Sprintf(`ORDER COMPARISON REPORT
=======================
Generated: %s

Source orders:     %d
Target orders:     %d
Perfect matches:   %d
Partial matches:   %d
Missing in target: %d
Missing in source: %d
Consistency:       %.2f%%

Critical issues: %d
Warning issues:  %d

%s

STATUS: %s
`,
		result.Timestamp.Format(time.RFC3339),
		result.Analysis.TotalSource,
		result.Analysis.TotalTarget,
		result.Analysis.PerfectMatches,
		result.Analysis.PartialMatches,
		len(result.Analysis.MissingInTarget),
		len(result.Analysis.MissingInSource),
		result.Statistics.ConsistencyScore,
		result.Statistics.CriticalIssues,
		result.Statistics.WarningIssues,
		strings.Join(result.Recommendations, "\n"),
		strings.ToUpper(result.Analysis.OverallStatus))

	return []byte(report)
}
