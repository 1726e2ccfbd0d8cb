package maintenance

import (
	"regexp"
	"strings"

	"github.com/kapella-hub/ngs/core/domain"
)

// ScopeTarget is the view of an event or incident that scope selectors
// run against.
type ScopeTarget struct {
	Host        string
	Service     string
	Environment string
	Region      string
	Tags        []string
}

// TargetFromEvent adapts an alert event.
func TargetFromEvent(e *domain.AlertEvent) ScopeTarget {
	return ScopeTarget{
		Host:        e.Host,
		Service:     e.CheckOrService(),
		Environment: e.Environment,
		Region:      e.Region,
		Tags:        e.Tags,
	}
}

// TargetFromIncident adapts an incident.
func TargetFromIncident(i *domain.Incident) ScopeTarget {
	return ScopeTarget{
		Host:        i.Host,
		Service:     i.Service,
		Environment: i.Environment,
		Region:      i.Region,
	}
}

// ParseScope parses a selector list of the form
// "host=web-*,db-01; env=prod; tag=oncall" into a scope. Unknown keys
// are dropped.
func ParseScope(raw string) domain.Scope {
	scope := domain.Scope{}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		key, rest, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = normalizeScopeKey(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		for _, v := range strings.Split(rest, ",") {
			if v = strings.TrimSpace(v); v != "" {
				scope[key] = append(scope[key], v)
			}
		}
	}
	return scope
}

func normalizeScopeKey(key string) string {
	switch strings.ToLower(key) {
	case "host", "hosts":
		return "host"
	case "service", "services":
		return "service"
	case "env", "environment", "environments":
		return "env"
	case "region", "regions":
		return "region"
	case "tag", "tags":
		return "tag"
	}
	return ""
}

// MatchScope evaluates a window scope against a target. Keys AND
// together, values under one key OR together, and an empty scope matches
// nothing. Host and service values support globs; env, region and tag
// match exactly. The returned reasons list one hit per matched key.
func MatchScope(scope domain.Scope, target ScopeTarget) ([]domain.MatchReason, bool) {
	if scope.IsEmpty() {
		return nil, false
	}

	var reasons []domain.MatchReason
	for _, key := range domain.ScopeKeys {
		values := scope[key]
		if len(values) == 0 {
			continue
		}
		reason, ok := matchKey(key, values, target)
		if !ok {
			return nil, false
		}
		reasons = append(reasons, reason)
	}
	return reasons, true
}

func matchKey(key string, values []string, target ScopeTarget) (domain.MatchReason, bool) {
	switch key {
	case "host":
		return matchGlobValues(key, values, target.Host)
	case "service":
		return matchGlobValues(key, values, target.Service)
	case "env":
		return matchExactValues(key, values, target.Environment)
	case "region":
		return matchExactValues(key, values, target.Region)
	case "tag":
		for _, want := range values {
			for _, have := range target.Tags {
				if strings.EqualFold(want, have) {
					return domain.MatchReason{Field: key, Pattern: want, Value: have}, true
				}
			}
		}
	}
	return domain.MatchReason{}, false
}

func matchExactValues(key string, values []string, actual string) (domain.MatchReason, bool) {
	if actual == "" {
		return domain.MatchReason{}, false
	}
	for _, v := range values {
		if strings.EqualFold(v, actual) {
			return domain.MatchReason{Field: key, Pattern: v, Value: actual}, true
		}
	}
	return domain.MatchReason{}, false
}

func matchGlobValues(key string, values []string, actual string) (domain.MatchReason, bool) {
	if actual == "" {
		return domain.MatchReason{}, false
	}
	for _, v := range values {
		if globMatch(v, actual) {
			return domain.MatchReason{Field: key, Pattern: v, Value: actual}, true
		}
	}
	return domain.MatchReason{}, false
}

// globMatch matches a host/service selector value: exact
// (case-insensitive), glob with * and ?, or a regex when the value is
// wrapped in slashes.
func globMatch(pattern, actual string) bool {
	if strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") && len(pattern) > 2 {
		re, err := regexp.Compile("(?i)" + pattern[1:len(pattern)-1])
		return err == nil && re.MatchString(actual)
	}
	if !strings.ContainsAny(pattern, "*?") {
		return strings.EqualFold(pattern, actual)
	}
	re, err := regexp.Compile("(?i)^" + globToRegex(pattern) + "$")
	return err == nil && re.MatchString(actual)
}

func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
