package rules

import (
	"fmt"
	"math"
	"strings"
)

// minOutlierGroup is the smallest indicator group that yields
// meaningful z-scores; smaller groups are skipped, not failed.
const minOutlierGroup = 3

// BatchAnalyzer runs the checks that need a whole record set: z-score
// outliers per indicator, period sums against annual references, and
// cross-field relations within a facility/period group. It holds no
// mutable state and is safe for concurrent use.
type BatchAnalyzer struct {
	store *RuleStore
}

func NewBatchAnalyzer(store *RuleStore) *BatchAnalyzer {
	return &BatchAnalyzer{store: store}
}

// Analyze evaluates all batch-only rules over the record set and
// returns the failing outcomes: outlier results first, then sum checks,
// then cross-field checks. Groups below their minimum population
// contribute nothing. The output order is stable for unchanged input.
func (a *BatchAnalyzer) Analyze(records []*NormalizedRecord, industry string) []*ValidationResult {
	var out []*ValidationResult
	out = append(out, a.detectOutliers(records, industry)...)
	out = append(out, a.checkPeriodSums(records, industry)...)
	out = append(out, a.checkCrossField(records, industry)...)
	return out
}

// detectOutliers groups records by indicator and flags values whose
// absolute z-score exceeds the rule threshold. Requires at least three
// records per indicator; a zero spread produces no outliers.
func (a *BatchAnalyzer) detectOutliers(records []*NormalizedRecord, industry string) []*ValidationResult {
	groups, order := groupBy(records, func(r *NormalizedRecord) string { return r.Indicator })

	var out []*ValidationResult
	for _, indicator := range order {
		group := withValues(groups[indicator])
		if len(group) < minOutlierGroup {
			continue
		}

		for _, rule := range a.store.GetApplicableRules(industry, indicator) {
			p, ok := rule.Params.(OutlierParams)
			if !ok {
				continue
			}

			// Each value is scored against the statistics of its peers
			// (leave-one-out): a single extreme value would otherwise
			// inflate the spread enough to mask itself, since the
			// in-group z-score can never exceed (n-1)/sqrt(n).
			for i, rec := range group {
				mean, stddev := meanStddev(group, i)
				if stddev == 0 {
					continue
				}
				z := math.Abs((*rec.Value - mean) / stddev)
				if z <= p.ZScoreThreshold {
					continue
				}
				low := mean - p.ZScoreThreshold*stddev
				high := mean + p.ZScoreThreshold*stddev
				res := newFailure(rec.ID, rule)
				res.Message = fmt.Sprintf("%s Z-score %.2f exceeds threshold %g.",
					rule.MessageTemplate, z, p.ZScoreThreshold)
				res.ActualValue = rec.Value
				res.Expected = Expected{Low: &low, High: &high}
				out = append(out, res)
			}
		}
	}
	return out
}

// checkPeriodSums compares the sum of sub-year periods against the
// bare-year reference record of the same facility and indicator. With
// no reference or no components the check is skipped.
func (a *BatchAnalyzer) checkPeriodSums(records []*NormalizedRecord, industry string) []*ValidationResult {
	groups, order := groupBy(records, func(r *NormalizedRecord) string {
		return r.FacilityID + "\x00" + r.Indicator
	})

	var out []*ValidationResult
	for _, key := range order {
		group := withValues(groups[key])

		var reference *NormalizedRecord
		var components []*NormalizedRecord
		for _, rec := range group {
			if isYearPeriod(rec.ReportingPeriod) {
				if reference == nil {
					reference = rec
				}
				continue
			}
			components = append(components, rec)
		}
		if reference == nil || len(components) == 0 {
			continue
		}

		var sum float64
		matched := 0
		for _, rec := range components {
			if strings.HasPrefix(rec.ReportingPeriod, reference.ReportingPeriod+"-") {
				sum += *rec.Value
				matched++
			}
		}
		if matched == 0 {
			continue
		}

		for _, rule := range a.store.GetApplicableRules(industry, reference.Indicator) {
			p, ok := rule.Params.(SumCheckParams)
			if !ok {
				continue
			}

			total := *reference.Value
			diff := relativeDiff(sum, total)
			if diff <= p.Tolerance {
				continue
			}

			low := total * (1 - p.Tolerance)
			high := total * (1 + p.Tolerance)
			res := newFailure(reference.ID, rule)
			res.Message = fmt.Sprintf("%s Period sum %.2f differs from annual total %.2f by %.1f%% (tolerance %.1f%%).",
				rule.MessageTemplate, sum, total, diff*100, p.Tolerance*100)
			res.ActualValue = &sum
			res.Expected = Expected{Low: &low, High: &high}
			out = append(out, res)
		}
	}
	return out
}

// checkCrossField evaluates relation rules within each facility/period
// group. The aggregate comes from the rule's compiled CEL relation, or
// the plain sum of component fields when no relation is declared. A
// group missing any named indicator skips the rule.
func (a *BatchAnalyzer) checkCrossField(records []*NormalizedRecord, industry string) []*ValidationResult {
	groups, order := groupBy(records, func(r *NormalizedRecord) string {
		return r.FacilityID + "\x00" + r.ReportingPeriod
	})

	// Cross-field rules are never indicator-scoped: the industry-wide
	// and cross-industry buckets cover them.
	var crossRules []*RuleDefinition
	for _, rule := range a.store.GetApplicableRules(industry, "") {
		if _, ok := rule.Params.(CrossFieldParams); ok {
			crossRules = append(crossRules, rule)
		}
	}
	if len(crossRules) == 0 {
		return nil
	}

	var out []*ValidationResult
	for _, key := range order {
		values := make(map[string]float64)
		byCanonical := make(map[string]*NormalizedRecord)
		for _, rec := range withValues(groups[key]) {
			canon := CanonicalIndicator(rec.Indicator)
			if _, dup := values[canon]; dup {
				continue // first record of an indicator wins within a group
			}
			values[canon] = *rec.Value
			byCanonical[canon] = rec
		}

		for _, rule := range crossRules {
			p := rule.Params.(CrossFieldParams)
			if res := evalCrossField(rule, p, values, byCanonical); res != nil {
				out = append(out, res)
			}
		}
	}
	return out
}

func evalCrossField(rule *RuleDefinition, p CrossFieldParams, values map[string]float64, byCanonical map[string]*NormalizedRecord) *ValidationResult {
	totalKey := CanonicalIndicator(p.Total)
	totalRec, ok := byCanonical[totalKey]
	if !ok {
		return nil
	}
	for _, f := range p.Fields {
		if _, ok := values[CanonicalIndicator(f)]; !ok {
			return nil
		}
	}

	var aggregate float64
	if rule.program != nil {
		activation := make(map[string]any, len(values))
		for k, v := range values {
			activation[k] = v
		}
		val, _, err := rule.program.Eval(activation)
		if err != nil {
			return nil
		}
		switch n := val.Value().(type) {
		case float64:
			aggregate = n
		case int64:
			aggregate = float64(n)
		default:
			return nil
		}
	} else {
		for _, f := range p.Fields {
			aggregate += values[CanonicalIndicator(f)]
		}
	}

	total := values[totalKey]
	diff := relativeDiff(aggregate, total)
	if diff <= p.Tolerance {
		return nil
	}

	low := total * (1 - p.Tolerance)
	high := total * (1 + p.Tolerance)
	res := newFailure(totalRec.ID, rule)
	res.Message = fmt.Sprintf("%s Components sum to %.2f but %s is %.2f, a %.1f%% difference (tolerance %.1f%%).",
		rule.MessageTemplate, aggregate, p.Total, total, diff*100, p.Tolerance*100)
	res.ActualValue = &aggregate
	res.Expected = Expected{Low: &low, High: &high}
	return res
}

// groupBy buckets records while remembering first-seen key order so
// iteration stays deterministic.
func groupBy(records []*NormalizedRecord, key func(*NormalizedRecord) string) (map[string][]*NormalizedRecord, []string) {
	groups := make(map[string][]*NormalizedRecord)
	var order []string
	for _, rec := range records {
		k := key(rec)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}
	return groups, order
}

func withValues(records []*NormalizedRecord) []*NormalizedRecord {
	out := records[:0:0]
	for _, rec := range records {
		if rec.Value != nil {
			out = append(out, rec)
		}
	}
	return out
}

// meanStddev returns the mean and sample standard deviation of the
// group's values, excluding the record at index skip (pass a negative
// index to include everything). Callers guarantee at least two values
// remain.
func meanStddev(records []*NormalizedRecord, skip int) (float64, float64) {
	n := 0
	var sum float64
	for i, rec := range records {
		if i == skip {
			continue
		}
		sum += *rec.Value
		n++
	}
	mean := sum / float64(n)

	var sq float64
	for i, rec := range records {
		if i == skip {
			continue
		}
		d := *rec.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n-1))
}

// relativeDiff is |a-b| relative to b; a zero reference compares the
// absolute aggregate instead of dividing by zero.
func relativeDiff(aggregate, reference float64) float64 {
	if reference == 0 {
		return math.Abs(aggregate)
	}
	return math.Abs(aggregate-reference) / math.Abs(reference)
}

// isYearPeriod reports whether a reporting period is a bare year
// ("2024") as opposed to a sub-year period ("2024-01", "2024-Q1").
func isYearPeriod(period string) bool {
	if len(period) != 4 {
		return false
	}
	for _, c := range period {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
