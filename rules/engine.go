package rules

// ValidationEngine resolves the rules that apply to a record, runs the
// single-record validators, and hands whole-set checks to the
// BatchAnalyzer. It is a pure function of (store, records): engines
// sharing one store may run concurrently without synchronization.
type ValidationEngine struct {
	store *RuleStore
	batch *BatchAnalyzer
}

func NewEngine(store *RuleStore) *ValidationEngine {
	return &ValidationEngine{
		store: store,
		batch: NewBatchAnalyzer(store),
	}
}

// Store exposes the engine's rule catalog for introspection.
func (e *ValidationEngine) Store() *RuleStore { return e.store }

// ValidateRecord runs every applicable single-record rule against the
// record and returns only the failing outcomes, in rule-lookup order.
// Batch-only rules (outlier, sum check, cross-field) are skipped here.
// Unknown industries resolve to the cross-industry rules, not an error.
func (e *ValidationEngine) ValidateRecord(rec *NormalizedRecord, industry string) []*ValidationResult {
	var out []*ValidationResult
	for _, rule := range e.store.GetApplicableRules(industry, rec.Indicator) {
		var res *ValidationResult
		switch p := rule.Params.(type) {
		case RangeParams:
			res = checkRange(rec, rule, p)
		case CategoryParams:
			res = checkCategory(rec, rule, p)
		case PatternParams:
			res = checkPattern(rec, rule, p)
		case NullCheckParams:
			res = checkNull(rec, rule, p)
		case PrecisionParams:
			res = checkPrecision(rec, rule, p)
		case OutlierParams, SumCheckParams, CrossFieldParams:
			// whole-set checks, evaluated by the BatchAnalyzer
		}
		if res != nil {
			out = append(out, res)
		}
	}
	return out
}

// ValidateBatch validates every record individually, then runs the
// whole-set checks and appends their outcomes. Per-record results keep
// the input record order; one bad record never aborts the rest.
func (e *ValidationEngine) ValidateBatch(records []*NormalizedRecord, industry string) []*ValidationResult {
	var out []*ValidationResult
	for _, rec := range records {
		out = append(out, e.ValidateRecord(rec, industry)...)
	}
	out = append(out, e.batch.Analyze(records, industry)...)
	return out
}
