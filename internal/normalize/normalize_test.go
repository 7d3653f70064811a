package normalize

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFull(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-01 10:22:33 Build #4512 failed on agent-12 (PID=3312)", "<TIMESTAMP> build #<N> failed on agent-<ID> (PID=<N>)"},
		{"GET https://ci.example.com/job/42 from 10.0.0.7 by ops@example.com", "GET <URL> from <IP> by <EMAIL>"},
		{`Writing C:\build\out.log and /var/lib/jenkins/workspace`, "Writing <WIN_PATH> and <PATH>"},
		{"01/02/2024 10:00:00 started", "<TIMESTAMP> started"},
		{"Job took 123456 ms, exit 123", "Job took <NUM> ms, exit 123"},
		{"  a \t b  ", "a b"},
		{"Agent agent-5 is offline", "agent-<ID> is offline"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Full(tt.in); got != tt.want {
			t.Fatalf("Full(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFullIsIdempotent(t *testing.T) {
	samples := []string{
		"2024-03-01T10:22:33.123Z Build #4512 failed on agent-12 (PID=3312)",
		"Cannot contact node 'agent-12'",
		"user@host.com/path/x 10.0.0.1/24",
		"12/31/2024\t23:59:59   job 00001234 #7",
		`copy D:\data\in.csv to /srv/out https://x.io/a?b=1`,
		"build   #  99 agent_foo.bar PID = 77",
		"Using cache for Docker layer",
		"merged feature/#42",
		"/#12build",
		"see /#7 and /srv/#8 then #9",
	}
	for _, s := range samples {
		once := Full(s)
		assert.Equal(t, once, Full(once), "input %q", s)
		assert.Equal(t, Quick(s), Quick(Quick(s)), "quick input %q", s)
	}
}

func TestFullRemasksRewrittenPaths(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/#12", "<PATH> #<N>"},
		{"merged feature/#42", "merged feature<PATH> #<N>"},
		{"/#12build", "<PATH> #<N>build"},
	}
	for _, tt := range tests {
		if got := Full(tt.in); got != tt.want {
			t.Fatalf("Full(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuickOnlyMasksTimestampsPathsAndNumbers(t *testing.T) {
	got := Quick("2024-03-01T10:22:33Z copied /tmp/x/y.txt id 99999 Build #12 from 10.0.0.7")
	assert.Equal(t, "<TIMESTAMP> copied <PATH> id <NUM> Build #12 from 10.0.0.7", got)
}

func TestSignature(t *testing.T) {
	a := Signature("Build #12 failed")
	assert.Equal(t, a, Signature("build #12   failed"))
	assert.Equal(t, a, Signature("  BUILD #12 FAILED\n"))
	assert.NotEqual(t, a, Signature("build #13 failed"))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{12}$`), a)
}

func TestExtraRules(t *testing.T) {
	n, bad := New([]Rule{
		{Name: "uuid", Pattern: `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`, Replace: "<UUID>"},
		{Name: "broken", Pattern: "("},
		{Name: "empty"},
	})
	assert.Equal(t, []string{"broken", "empty"}, bad)
	assert.Equal(t, "request <UUID> done", n.Full("request 3f2a9c1e-1b2c-4d5e-8f90-123456789abc done"))
	// built-ins still apply
	assert.Equal(t, "<TIMESTAMP> ok", n.Full("2024-01-01 00:00:00 ok"))
}
