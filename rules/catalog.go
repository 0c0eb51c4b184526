package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/openesg/validate/internal/logger"
)

// LoadError reports a catalog that could not be loaded. It is fatal:
// nothing depending on the store should start without a valid catalog.
type LoadError struct {
	Industry string
	Rule     string
	Reason   string
	Err      error
}

func (e *LoadError) Error() string {
	msg := "rule catalog load failed"
	if e.Industry != "" {
		msg += fmt.Sprintf(": industry %q", e.Industry)
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(", rule %q", e.Rule)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// CrossIndustryKey is the catalog section whose rules apply to records
// of every industry.
const CrossIndustryKey = "cross_industry"

// catalogEntry is the wire form of one rule in a catalog document.
type catalogEntry struct {
	RuleName       string         `json:"rule_name" yaml:"rule_name"`
	Description    string         `json:"description" yaml:"description"`
	Indicator      string         `json:"indicator" yaml:"indicator"`
	ValidationType string         `json:"validation_type" yaml:"validation_type"`
	Parameters     map[string]any `json:"parameters" yaml:"parameters"`
	Severity       string         `json:"severity" yaml:"severity"`
	Citation       string         `json:"citation" yaml:"citation"`
	ErrorMessage   string         `json:"error_message" yaml:"error_message"`
	SuggestedFixes []string       `json:"suggested_fixes" yaml:"suggested_fixes"`
}

// RuleStore holds a loaded, indexed rule catalog. It is immutable after
// construction and safe for concurrent readers.
type RuleStore struct {
	byIndicator   map[string][]*RuleDefinition // (industry, indicator) specific
	byIndustry    map[string][]*RuleDefinition // empty-indicator rules per industry
	crossIndustry []*RuleDefinition
	total         int
	cache         *lookupCache
}

// CatalogSummary describes a loaded catalog for introspection endpoints.
type CatalogSummary struct {
	TotalRules      int            `json:"total_rules"`
	Industries      []string       `json:"industries"`
	RulesByIndustry map[string]int `json:"rules_by_industry"`
	ValidationTypes []string       `json:"validation_types"`
}

// LoadFile reads a catalog from disk. `.yaml`/`.yml` files decode as
// YAML, everything else as JSON.
func LoadFile(path string) (*RuleStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Reason: "reading catalog file", Err: err}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadBytes(data, true)
	default:
		return loadBytes(data, false)
	}
}

// Load parses a catalog document supplied as bytes. JSON documents are
// recognized by their leading brace; anything else is decoded as YAML.
func Load(data []byte) (*RuleStore, error) {
	trimmed := strings.TrimSpace(string(data))
	return loadBytes(data, !strings.HasPrefix(trimmed, "{"))
}

func loadBytes(data []byte, asYAML bool) (*RuleStore, error) {
	raw := map[string]map[string]catalogEntry{}
	if asYAML {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &LoadError{Reason: "parsing YAML catalog", Err: err}
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &LoadError{Reason: "parsing JSON catalog", Err: err}
		}
	}

	s := &RuleStore{
		byIndicator: make(map[string][]*RuleDefinition),
		byIndustry:  make(map[string][]*RuleDefinition),
		cache:       newLookupCache(),
	}

	seen := make(map[string]struct{})
	for industry, entries := range raw {
		for key, entry := range entries {
			rule, err := buildRule(industry, key, entry)
			if err != nil {
				return nil, err
			}
			if rule == nil {
				// malformed parameters: logged and skipped, the rest of
				// the catalog still loads
				continue
			}

			identity := industry + "\x00" + rule.Indicator + "\x00" + rule.RuleName
			if _, dup := seen[identity]; dup {
				return nil, &LoadError{Industry: industry, Rule: rule.RuleName, Reason: "duplicate rule identity"}
			}
			seen[identity] = struct{}{}

			s.insert(industry, rule)
		}
	}

	// Deterministic lookup order within each bucket.
	for k := range s.byIndicator {
		sortRules(s.byIndicator[k])
	}
	for k := range s.byIndustry {
		sortRules(s.byIndustry[k])
	}
	sortRules(s.crossIndustry)

	return s, nil
}

func (s *RuleStore) insert(industry string, rule *RuleDefinition) {
	s.total++
	if industry == CrossIndustryKey {
		s.crossIndustry = append(s.crossIndustry, rule)
		return
	}
	if rule.Indicator != "" {
		k := indicatorKey(industry, rule.Indicator)
		s.byIndicator[k] = append(s.byIndicator[k], rule)
		return
	}
	s.byIndustry[industry] = append(s.byIndustry[industry], rule)
}

func buildRule(industry, key string, entry catalogEntry) (*RuleDefinition, error) {
	name := entry.RuleName
	if name == "" {
		name = key
	}
	if name == "" {
		return nil, &LoadError{Industry: industry, Reason: "rule without a name"}
	}

	var severity Severity
	switch entry.Severity {
	case string(SeverityError):
		severity = SeverityError
	case string(SeverityWarning):
		severity = SeverityWarning
	default:
		return nil, &LoadError{Industry: industry, Rule: name, Reason: fmt.Sprintf("invalid severity %q", entry.Severity)}
	}

	params, err := decodeParams(entry.ValidationType, entry.Parameters)
	if err != nil {
		if _, unknown := err.(*unknownTypeError); unknown {
			return nil, &LoadError{Industry: industry, Rule: name, Reason: err.Error()}
		}
		logger.Warn("skipping rule with unusable parameters",
			"industry", industry, "rule", name, "reason", err.Error())
		return nil, nil
	}

	rule := &RuleDefinition{
		Industry:        industry,
		RuleName:        name,
		Description:     entry.Description,
		Indicator:       entry.Indicator,
		Severity:        severity,
		Citation:        entry.Citation,
		MessageTemplate: entry.ErrorMessage,
		SuggestedFixes:  entry.SuggestedFixes,
		Params:          params,
	}

	if cf, ok := params.(CrossFieldParams); ok && cf.Relation != "" {
		prog, err := compileRelation(cf)
		if err != nil {
			return nil, &LoadError{Industry: industry, Rule: name, Reason: "compiling cross-field relation", Err: err}
		}
		rule.program = prog
	}

	return rule, nil
}

// compileRelation builds a CEL environment declaring every component
// indicator as a double and compiles the relation expression against it.
func compileRelation(p CrossFieldParams) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(p.Fields)+1)
	for _, f := range p.Fields {
		opts = append(opts, cel.Variable(CanonicalIndicator(f), cel.DoubleType))
	}
	if p.Total != "" {
		opts = append(opts, cel.Variable(CanonicalIndicator(p.Total), cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	ast, issues := env.Compile(p.Relation)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// GetApplicableRules returns the rules that apply to a record of the
// given industry and indicator: indicator-specific rules first, then
// industry-wide rules, then cross-industry rules. The order is stable
// across calls. An unknown industry resolves to the cross-industry
// subset only.
func (s *RuleStore) GetApplicableRules(industry, indicator string) []*RuleDefinition {
	key := indicatorKey(industry, indicator)
	if cached := s.cache.get(key); cached != nil {
		return cached
	}

	out := make([]*RuleDefinition, 0,
		len(s.byIndicator[key])+len(s.byIndustry[industry])+len(s.crossIndustry))
	out = append(out, s.byIndicator[key]...)
	out = append(out, s.byIndustry[industry]...)
	out = append(out, s.crossIndustry...)

	s.cache.set(key, out)
	return out
}

// CrossIndustryRules returns the rules not scoped to any industry.
func (s *RuleStore) CrossIndustryRules() []*RuleDefinition {
	return s.crossIndustry
}

// IndustryRules returns the empty-indicator rules of one industry.
func (s *RuleStore) IndustryRules(industry string) []*RuleDefinition {
	return s.byIndustry[industry]
}

// Summary reports catalog counts for health and introspection endpoints.
func (s *RuleStore) Summary() CatalogSummary {
	byIndustry := make(map[string]int)
	types := make(map[string]struct{})

	collect := func(rs []*RuleDefinition) {
		for _, r := range rs {
			byIndustry[r.Industry]++
			types[r.Params.validationType()] = struct{}{}
		}
	}
	for _, rs := range s.byIndicator {
		collect(rs)
	}
	for _, rs := range s.byIndustry {
		collect(rs)
	}
	collect(s.crossIndustry)

	industries := make([]string, 0, len(byIndustry))
	for ind := range byIndustry {
		industries = append(industries, ind)
	}
	sort.Strings(industries)

	typeNames := make([]string, 0, len(types))
	for t := range types {
		typeNames = append(typeNames, t)
	}
	sort.Strings(typeNames)

	return CatalogSummary{
		TotalRules:      s.total,
		Industries:      industries,
		RulesByIndustry: byIndustry,
		ValidationTypes: typeNames,
	}
}

func indicatorKey(industry, indicator string) string {
	return industry + "\x00" + indicator
}

func sortRules(rs []*RuleDefinition) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].RuleName < rs[j].RuleName })
}

// unknownTypeError marks a validation_type outside the closed set; it
// fails the whole load instead of being skipped.
type unknownTypeError struct{ typ string }

func (e *unknownTypeError) Error() string {
	return fmt.Sprintf("unknown validation type %q", e.typ)
}

func decodeParams(validationType string, p map[string]any) (RuleParams, error) {
	switch validationType {
	case TypeRange:
		min, hasMin := paramFloat(p, "min")
		max, hasMax := paramFloat(p, "max")
		if !hasMin && !hasMax {
			return nil, fmt.Errorf("range rule needs min or max")
		}
		return RangeParams{Min: min, Max: max}, nil

	case TypeCategory:
		values := paramStrings(p, "allowed_values")
		if len(values) == 0 {
			// older catalogs use these two spellings
			values = paramStrings(p, "allowed_sources")
		}
		if len(values) == 0 {
			values = paramStrings(p, "allowed_categories")
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("category rule needs allowed values")
		}
		return CategoryParams{AllowedValues: values}, nil

	case TypePattern:
		patterns := paramStrings(p, "allowed_patterns")
		if len(patterns) == 0 {
			return nil, fmt.Errorf("pattern rule needs allowed_patterns")
		}
		return PatternParams{AllowedPatterns: patterns}, nil

	case TypeNullCheck:
		fields := paramStrings(p, "required_fields")
		if len(fields) == 0 {
			return nil, fmt.Errorf("null check needs required_fields")
		}
		return NullCheckParams{RequiredFields: fields}, nil

	case TypePrecision:
		max, ok := paramFloat(p, "max_decimal_places")
		if !ok || *max < 0 {
			return nil, fmt.Errorf("precision check needs max_decimal_places >= 0")
		}
		return PrecisionParams{MaxDecimalPlaces: int(*max)}, nil

	case TypeOutlier:
		threshold := 3.0
		if v, ok := paramFloat(p, "z_score_threshold"); ok {
			threshold = *v
		}
		if threshold <= 0 {
			return nil, fmt.Errorf("outlier threshold must be positive")
		}
		return OutlierParams{ZScoreThreshold: threshold}, nil

	case TypeSumCheck:
		tolerance := 0.02
		if v, ok := paramFloat(p, "tolerance"); ok {
			tolerance = *v
		}
		if tolerance < 0 {
			return nil, fmt.Errorf("sum check tolerance must not be negative")
		}
		return SumCheckParams{Tolerance: tolerance}, nil

	case TypeCrossField:
		fields := paramStrings(p, "fields")
		total, _ := paramString(p, "total")
		if total == "" && len(fields) >= 2 {
			// older catalogs list the reference total as the last field
			total = fields[len(fields)-1]
			fields = fields[:len(fields)-1]
		}
		if len(fields) == 0 || total == "" {
			return nil, fmt.Errorf("cross-field rule needs component fields and a total")
		}
		tolerance := 0.02
		if v, ok := paramFloat(p, "tolerance"); ok {
			tolerance = *v
		}
		relation, _ := paramString(p, "relation")
		return CrossFieldParams{
			Fields:    fields,
			Total:     total,
			Relation:  relation,
			Tolerance: tolerance,
		}, nil

	default:
		return nil, &unknownTypeError{typ: validationType}
	}
}

// paramFloat reads a numeric parameter; JSON decodes numbers as float64
// while YAML may produce int or int64.
func paramFloat(p map[string]any, key string) (*float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return nil, false
	}
	return &f, true
}

func paramString(p map[string]any, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func paramStrings(p map[string]any, key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
