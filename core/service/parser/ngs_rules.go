package parser

import (
	"regexp"
	"strings"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

// =============================================================================
// Rule-based parsers - first stage of the pipeline
// =============================================================================

// RuleDef is the configuration form of one static parser.
type RuleDef struct {
	SourceTool     string            `json:"source_tool"`
	Name           string            `json:"name"`
	SubjectPattern string            `json:"subject_pattern"`
	FromDomains    []string          `json:"from_domains,omitempty"`
	BodyPatterns   []string          `json:"body_patterns,omitempty"`
	SeverityMap    map[string]string `json:"severity_map,omitempty"`
	StaticTags     []string          `json:"static_tags,omitempty"`
}

// RuleParser is a compiled static parser.
type RuleParser struct {
	def         RuleDef
	subjectRe   *regexp.Regexp
	bodyRes     []*regexp.Regexp
	fromDomains map[string]bool
}

// CompileRule compiles a rule definition, failing fast on bad patterns.
func CompileRule(def RuleDef) (*RuleParser, error) {
	if def.SubjectPattern == "" {
		return nil, apperr.ConfigError("rule parser " + def.SourceTool + " has no subject pattern")
	}
	subjectRe, err := regexp.Compile("(?i)" + def.SubjectPattern)
	if err != nil {
		return nil, apperr.ConfigError("rule parser " + def.SourceTool + ": bad subject pattern").WithError(err)
	}

	rp := &RuleParser{def: def, subjectRe: subjectRe}
	for _, p := range def.BodyPatterns {
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			return nil, apperr.ConfigError("rule parser " + def.SourceTool + ": bad body pattern").WithError(err)
		}
		rp.bodyRes = append(rp.bodyRes, re)
	}
	if len(def.FromDomains) > 0 {
		rp.fromDomains = make(map[string]bool, len(def.FromDomains))
		for _, d := range def.FromDomains {
			rp.fromDomains[strings.ToLower(d)] = true
		}
	}
	return rp, nil
}

// CompileRules compiles an ordered rule list.
func CompileRules(defs []RuleDef) ([]*RuleParser, error) {
	parsers := make([]*RuleParser, 0, len(defs))
	for _, def := range defs {
		rp, err := CompileRule(def)
		if err != nil {
			return nil, err
		}
		parsers = append(parsers, rp)
	}
	return parsers, nil
}

// SourceTool returns the tool identifier this rule extracts for.
func (rp *RuleParser) SourceTool() string { return rp.def.SourceTool }

// StaticTags returns tags attached to every event this rule produces.
func (rp *RuleParser) StaticTags() []string { return rp.def.StaticTags }

// MatchesDomain reports whether the rule accepts mail from the domain.
// Rules without a domain filter accept everything.
func (rp *RuleParser) MatchesDomain(fromDomain string) bool {
	if rp.fromDomains == nil {
		return true
	}
	return rp.fromDomains[strings.ToLower(fromDomain)]
}

// Apply runs the rule against subject and body. The bool result reports
// whether the subject pattern matched; named groups from subject and
// body patterns merge into the returned field map, with the rule's
// severity mapping applied.
func (rp *RuleParser) Apply(subject, body string) (map[string]string, bool) {
	fields := map[string]string{}

	m := rp.subjectRe.FindStringSubmatch(subject)
	if m == nil {
		return nil, false
	}
	mergeNamedGroups(fields, rp.subjectRe, m)

	// Body patterns fall back to the subject: some tools pack every
	// field into the subject line.
	for _, re := range rp.bodyRes {
		if bm := re.FindStringSubmatch(body); bm != nil {
			mergeNamedGroups(fields, re, bm)
		} else if sm := re.FindStringSubmatch(subject); sm != nil {
			mergeNamedGroups(fields, re, sm)
		}
	}

	if sev, ok := fields["severity"]; ok && len(rp.def.SeverityMap) > 0 {
		if mapped, ok := rp.def.SeverityMap[strings.ToLower(sev)]; ok {
			fields["severity"] = mapped
		}
	}
	return fields, true
}

func mergeNamedGroups(dst map[string]string, re *regexp.Regexp, match []string) {
	for i, name := range re.SubexpNames() {
		if name == "" || i >= len(match) || match[i] == "" {
			continue
		}
		dst[name] = strings.TrimSpace(match[i])
	}
}

// DefaultRuleDefs covers the common monitoring tools out of the box.
// Deployments override or extend this list through configuration.
func DefaultRuleDefs() []RuleDef {
	return []RuleDef{
		{
			SourceTool:     "op5",
			Name:           "OP5 Monitor",
			SubjectPattern: `\*\*\s*(?P<state>PROBLEM|RECOVERY|ACKNOWLEDGEMENT)\s*\*\*.*Host:\s*(?P<host>\S+)`,
			BodyPatterns: []string{
				`Service:\s*(?P<service>\S+)`,
				`State:\s*(?P<severity>CRITICAL|WARNING|OK|UNKNOWN)`,
				`Additional Info:\s*(?P<info>.+)`,
			},
		},
		{
			SourceTool:     "nagios",
			Name:           "Nagios",
			SubjectPattern: `\*\*\s*(?P<state>PROBLEM|RECOVERY)\s*\*\*.*Host:\s*(?P<host>\S+)`,
			BodyPatterns: []string{
				`Service:\s*(?P<service>\S+)`,
				`State:\s*(?P<severity>CRITICAL|WARNING|OK|UNKNOWN)`,
			},
		},
		{
			SourceTool:     "xymon",
			Name:           "Xymon",
			SubjectPattern: `(?P<host>\S+)\.(?P<service>\S+)\s+(?P<severity>red|yellow|green)`,
			SeverityMap:    map[string]string{"red": "critical", "yellow": "warning", "green": "info"},
		},
		{
			SourceTool:     "splunk",
			Name:           "Splunk Alert",
			SubjectPattern: `Splunk Alert:\s*(?P<alert_name>.+)`,
			BodyPatterns: []string{
				`host=(?P<host>\S+)`,
				`severity=(?P<severity>\w+)`,
			},
		},
		{
			SourceTool:     "prometheus",
			Name:           "Prometheus AlertManager",
			SubjectPattern: `\[(?P<state>FIRING|RESOLVED)(:\d+)?\]\s*(?P<alert_name>.+)`,
			BodyPatterns: []string{
				`instance:\s*(?P<host>\S+)`,
				`alertname:\s*(?P<check_name>\S+)`,
				`severity:\s*(?P<severity>\w+)`,
			},
		},
		{
			SourceTool:     "zabbix",
			Name:           "Zabbix",
			SubjectPattern: `(?P<state>PROBLEM|OK):\s*(?P<trigger>.+)`,
			BodyPatterns: []string{
				`Host:\s*(?P<host>\S+)`,
				`Severity:\s*(?P<severity>\w+)`,
			},
		},
	}
}

// knownSourceTools drives folder/content sniffing for source attribution.
var knownSourceTools = []string{"op5", "nagios", "xymon", "splunk", "prometheus", "zabbix"}

// DetermineSourceTool attributes a message to a monitoring tool using
// the folder name first, then content signatures.
func DetermineSourceTool(folder, subject, body string) string {
	folderLower := strings.ToLower(folder)
	for _, tool := range knownSourceTools {
		if strings.Contains(folderLower, tool) {
			return tool
		}
	}

	content := strings.ToLower(subject + " " + body)
	switch {
	case strings.Contains(content, "alertmanager") || strings.Contains(content, "prometheus"):
		return "prometheus"
	case strings.Contains(content, "splunk"):
		return "splunk"
	case strings.Contains(content, "zabbix"):
		return "zabbix"
	case strings.Contains(content, "xymon"):
		return "xymon"
	case strings.Contains(content, "nagios") || strings.Contains(content, "op5"):
		return "op5"
	}

	folder = strings.ReplaceAll(folder, "INBOX", "generic")
	return strings.ReplaceAll(folder, "/", "_")
}

// ExtractTags collects env/region tags plus key=value tag fragments from
// the body.
var reBodyTags = regexp.MustCompile(`(?i)tags?[=:]\s*([^\s,;]+)`)

func ExtractTags(body string, fields map[string]string, static []string) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	if env := fields["environment"]; env != "" {
		add("env:" + env)
	}
	if region := fields["region"]; region != "" {
		add("region:" + region)
	}
	for _, m := range reBodyTags.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	for _, t := range static {
		add(t)
	}
	return tags
}

// severityFromFields resolves the severity for a rule hit: explicit
// severity group first, falling back to the state token (a PROBLEM with
// no severity is still actionable).
func severityFromFields(fields map[string]string) domain.Severity {
	if sev := fields["severity"]; sev != "" {
		return domain.NormalizeSeverity(sev)
	}
	if state := fields["state"]; state != "" {
		switch domain.NormalizeState(state) {
		case domain.StateResolved:
			return domain.SeverityInfo
		case domain.StateFiring:
			return domain.SeverityHigh
		}
	}
	return domain.SeverityMedium
}

// stateFromFields resolves the event state: explicit state group first,
// then the severity token (OK/RECOVERY imply resolved), else firing.
func stateFromFields(fields map[string]string) domain.EventState {
	if state := fields["state"]; state != "" {
		if s := domain.NormalizeState(state); s != domain.StateUnknown {
			return s
		}
		return domain.StateUnknown
	}
	if sev := fields["severity"]; sev != "" {
		if domain.NormalizeState(sev) == domain.StateResolved {
			return domain.StateResolved
		}
	}
	return domain.StateFiring
}
