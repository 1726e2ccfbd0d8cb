package fingerprint

import (
	"strings"
	"testing"
)

func TestNormalizeSignature(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		want    string
	}{
		{
			name:    "digit runs collapse",
			subject: "Disk usage 95% on web-01",
			body:    "",
			want:    "disk usage <n>% on web-<n>",
		},
		{
			name:    "uuid becomes placeholder",
			subject: "job failed",
			body:    "run id 550e8400-e29b-41d4-a716-446655440000 aborted",
			want:    "job failed run id <guid> aborted",
		},
		{
			name:    "ipv4 becomes placeholder",
			subject: "ping loss",
			body:    "target 10.1.2.3 unreachable",
			want:    "ping loss target <ip> unreachable",
		},
		{
			name:    "timestamp becomes placeholder",
			subject: "backup",
			body:    "started 2026-08-25T03:00:00Z late",
			want:    "backup started <ts> late",
		},
		{
			name:    "keyed numeric fields",
			subject: "proc alert",
			body:    "pid=4411 port: 8443",
			want:    "proc alert pid=<n> port=<n>",
		},
		{
			name:    "whitespace collapsed",
			subject: "a    b",
			body:    "  c\n\nd ",
			want:    "a b c d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSignature(tt.subject, tt.body)
			if got != tt.want {
				t.Errorf("NormalizeSignature() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFingerprint_SeverityIndependent(t *testing.T) {
	// Same condition reported at different severities must collide, even
	// when the severity token appears in the signature text.
	sigCrit := NormalizeSignature("** PROBLEM ** CRITICAL http down", "")
	sigWarn := NormalizeSignature("** PROBLEM ** WARNING http down", "")

	a := Fingerprint("op5", "prod", "web-01", "http", sigCrit)
	b := Fingerprint("op5", "prod", "web-01", "http", sigWarn)
	if a != b {
		t.Errorf("severity change altered fingerprint: %s vs %s", a, b)
	}
}

func TestFingerprint_FiringResolvedShared(t *testing.T) {
	sigProblem := NormalizeSignature("** PROBLEM ** Host: web-01 Service: http State: CRITICAL", "")
	sigRecovery := NormalizeSignature("** RECOVERY ** Host: web-01 Service: http State: OK", "")

	a := Fingerprint("op5", "prod", "web-01", "http", sigProblem)
	b := Fingerprint("op5", "prod", "web-01", "http", sigRecovery)
	if a != b {
		t.Errorf("firing and resolved events must share a fingerprint: %s vs %s", a, b)
	}
}

func TestFingerprint_CorrelationIDIndependent(t *testing.T) {
	// Ticket #123 vs #124 describing the same host+check must collide,
	// because digit runs are normalized before fingerprinting.
	sig1 := NormalizeSignature("ticket #123: http check failing", "")
	sig2 := NormalizeSignature("ticket #124: http check failing", "")
	if sig1 != sig2 {
		t.Fatalf("normalized signatures differ: %q vs %q", sig1, sig2)
	}

	fp1 := Fingerprint("nagios", "prod", "web-01", "http", sig1)
	fp2 := Fingerprint("nagios", "prod", "web-01", "http", sig2)
	if fp1 != fp2 {
		t.Errorf("fingerprints differ for correlation-id-only change: %s vs %s", fp1, fp2)
	}
}

func TestFingerprint_DistinctHosts(t *testing.T) {
	sig := "http down"
	fp1 := Fingerprint("op5", "prod", "web-01", "http", sig)
	fp2 := Fingerprint("op5", "prod", "web-02", "http", sig)
	if fp1 == fp2 {
		t.Error("different hosts must not share a fingerprint")
	}
}

func TestFingerprint_Shape(t *testing.T) {
	fp := Fingerprint("op5", "prod", "Web-01.", "HTTP_check_3", "sig")
	if len(fp) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(fp))
	}
	if fp != strings.ToLower(fp) {
		t.Errorf("fingerprint not lowercase: %s", fp)
	}
}

func TestCanonicalHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Web-01.", "web-01"},
		{"db-07", "db-07"},
		{"  HOST.example.COM  ", "host.example.com"},
	}
	for _, tt := range tests {
		if got := CanonicalHost(tt.in); got != tt.want {
			t.Errorf("CanonicalHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalCheck(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"disk_check_3", "disk_check_*"},
		{"HTTP", "http"},
		{"queue-42-depth", "queue-*-depth"},
	}
	for _, tt := range tests {
		if got := CanonicalCheck(tt.in); got != tt.want {
			t.Errorf("CanonicalCheck(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSignature(t *testing.T) {
	sig := Compute(
		"OP5 Monitor <noreply@op5.example.com>",
		"** PROBLEM ** [1234] web-01 / http",
		"Host: web-01\nService: http\nStatus: CRITICAL",
	)

	if sig.FromDomain != "op5.example.com" {
		t.Errorf("FromDomain = %q", sig.FromDomain)
	}
	if sig.SubjectPrefix != "** PROBLEM ** [*] web-*N* / http" {
		t.Errorf("SubjectPrefix = %q", sig.SubjectPrefix)
	}
	if len(sig.Hash) != 64 {
		t.Errorf("Hash length = %d, want 64", len(sig.Hash))
	}

	wantMarkers := []string{"critical", "host:", "service:", "status"}
	if len(sig.BodyMarkers) != len(wantMarkers) {
		t.Fatalf("BodyMarkers = %v, want %v", sig.BodyMarkers, wantMarkers)
	}
	for i, m := range wantMarkers {
		if sig.BodyMarkers[i] != m {
			t.Errorf("BodyMarkers[%d] = %q, want %q", i, sig.BodyMarkers[i], m)
		}
	}
}

func TestFormatSignature_StableAcrossInstances(t *testing.T) {
	// Two concrete alerts from the same tool share a format signature.
	a := Compute("noreply@op5.example.com", "** PROBLEM ** [1111] web-01 / http", "Host: web-01\nStatus: CRITICAL")
	b := Compute("noreply@op5.example.com", "** PROBLEM ** [2222] db-02 / mysql", "Host: db-02\nStatus: CRITICAL")
	if a.Hash != b.Hash {
		t.Errorf("format hashes differ for same shape: %s vs %s", a.Hash, b.Hash)
	}
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alerts@nagios.example.com", "nagios.example.com"},
		{"Nagios <alerts@Nagios.Example.Com>", "nagios.example.com"},
		{"no-at-sign", ""},
	}
	for _, tt := range tests {
		if got := FromDomain(tt.in); got != tt.want {
			t.Errorf("FromDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
