package maintenance

import (
	"reflect"
	"testing"

	"github.com/kapella-hub/ngs/core/domain"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.Scope
	}{
		{
			name: "full selector list",
			raw:  "host=web-*,db-01; service=http; env=prod; region=eu-north; tag=oncall",
			want: domain.Scope{
				"host":    {"web-*", "db-01"},
				"service": {"http"},
				"env":     {"prod"},
				"region":  {"eu-north"},
				"tag":     {"oncall"},
			},
		},
		{
			name: "plural key aliases",
			raw:  "hosts=a,b; tags=x; environments=staging",
			want: domain.Scope{"host": {"a", "b"}, "tag": {"x"}, "env": {"staging"}},
		},
		{
			name: "unknown keys dropped",
			raw:  "host=a; datacenter=dc1",
			want: domain.Scope{"host": {"a"}},
		},
		{
			name: "empty",
			raw:  "",
			want: domain.Scope{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseScope(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScope(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMatchScope(t *testing.T) {
	target := ScopeTarget{
		Host:        "web-01",
		Service:     "http",
		Environment: "prod",
		Region:      "eu-north",
		Tags:        []string{"oncall", "team-web"},
	}

	tests := []struct {
		name  string
		scope domain.Scope
		want  bool
	}{
		{"empty scope matches nothing", domain.Scope{}, false},
		{"host glob", domain.Scope{"host": {"web-*"}}, true},
		{"host question mark", domain.Scope{"host": {"web-0?"}}, true},
		{"host exact case-insensitive", domain.Scope{"host": {"WEB-01"}}, true},
		{"host miss", domain.Scope{"host": {"db-*"}}, false},
		{"value OR within key", domain.Scope{"host": {"db-*", "web-*"}}, true},
		{"key AND across keys", domain.Scope{"host": {"web-*"}, "env": {"staging"}}, false},
		{"all keys match", domain.Scope{"host": {"web-*"}, "service": {"http"}, "env": {"prod"}}, true},
		{"env exact no glob", domain.Scope{"env": {"pr*"}}, false},
		{"region exact", domain.Scope{"region": {"eu-north"}}, true},
		{"tag membership", domain.Scope{"tag": {"oncall"}}, true},
		{"tag miss", domain.Scope{"tag": {"offcall"}}, false},
		{"regex form", domain.Scope{"host": {"/^web-\\d+$/"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasons, got := MatchScope(tt.scope, target)
			if got != tt.want {
				t.Fatalf("MatchScope = %v, want %v", got, tt.want)
			}
			if got && len(reasons) == 0 {
				t.Error("match produced no reasons")
			}
		})
	}
}

func TestMatchScope_Reasons(t *testing.T) {
	target := ScopeTarget{Host: "web-01", Environment: "prod"}
	reasons, ok := MatchScope(domain.Scope{"host": {"web-*"}, "env": {"prod"}}, target)
	if !ok {
		t.Fatal("expected match")
	}
	if len(reasons) != 2 {
		t.Fatalf("reasons = %d, want 2", len(reasons))
	}
	if reasons[0].Field != "host" || reasons[0].Pattern != "web-*" || reasons[0].Value != "web-01" {
		t.Errorf("host reason = %+v", reasons[0])
	}
}

func TestMatchScope_MissingTargetField(t *testing.T) {
	// A selector on a field the target does not carry cannot match.
	target := ScopeTarget{Host: "web-01"}
	if _, ok := MatchScope(domain.Scope{"env": {"prod"}}, target); ok {
		t.Error("env selector matched a target without environment")
	}
}
