// Package normalize masks volatile tokens in log text and derives the
// short signature used to bucket recurring messages.
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

type replacement struct {
	re   *regexp.Regexp
	with string
}

// ordem importa: regras posteriores veem o texto já mascarado
var fullRules = []replacement{
	{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?\b`), "<TIMESTAMP>"},
	{regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}[ T]\d{2}:\d{2}:\d{2}\b`), "<TIMESTAMP>"},
	{regexp.MustCompile(`https?://\S+`), "<URL>"},
	{regexp.MustCompile(`(/[A-Za-z0-9._$%+\-]+)+`), "<PATH>"},
	{regexp.MustCompile(`[A-Za-z]:\\[^\s"]+`), "<WIN_PATH>"},
	{regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`), "<IP>"},
	{regexp.MustCompile(`\b\S+@\S+\.\S+\b`), "<EMAIL>"},
	{regexp.MustCompile(`(?i)(?:build\s*#\s*|#)\d+`), "build #<N>"},
	{regexp.MustCompile(`(?i)\bPID\s*=\s*\d+\b`), "PID=<N>"},
	{regexp.MustCompile(`(?i)\bagent[-_ ]?[A-Za-z0-9._-]+\b`), "agent-<ID>"},
	{regexp.MustCompile(`\b\d{4,}\b`), "<NUM>"},
}

var (
	quickTimestamp = fullRules[0]
	quickPath      = replacement{regexp.MustCompile(`(?:/\S+)+`), "<PATH>"}
	longNumber     = fullRules[len(fullRules)-1]
)

// Rule is an operator supplied masking rule, applied after the built-in ones.
type Rule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// Normalizer applies the full masking rule set plus any extra rules.
// The zero value is ready to use.
type Normalizer struct {
	extra []replacement
}

// New compiles extra rules. Rules that fail to compile are skipped and
// returned by name so the caller can log them.
func New(rules []Rule) (*Normalizer, []string) {
	n := &Normalizer{}
	var bad []string
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil || r.Pattern == "" {
			bad = append(bad, r.Name)
			continue
		}
		n.extra = append(n.extra, replacement{re: re, with: r.Replace})
	}
	return n, bad
}

// maxPasses bounds the rule passes in Full. A rewrite can expose text for an
// earlier rule ("/#12" becomes "/build #<N>", which is a path).
const maxPasses = 4

// Full masks timestamps, URLs, paths, IPs, e-mails, build numbers, PIDs,
// agent names and long numbers, then collapses whitespace. The rule set is
// reapplied until the text stops changing, so Full is idempotent.
func (n *Normalizer) Full(raw string) string {
	s := collapse(raw)
	for i := 0; i < maxPasses; i++ {
		next := n.pass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func (n *Normalizer) pass(s string) string {
	for _, r := range fullRules {
		s = r.re.ReplaceAllLiteralString(s, r.with)
	}
	if n != nil {
		for _, r := range n.extra {
			s = r.re.ReplaceAllLiteralString(s, r.with)
		}
	}
	return collapse(s)
}

// Full uses the built-in rules only.
func Full(raw string) string { return (*Normalizer)(nil).Full(raw) }

// Quick is the ingest-path variant: timestamps, paths and long numbers only.
func Quick(raw string) string {
	s := quickTimestamp.re.ReplaceAllLiteralString(raw, quickTimestamp.with)
	s = quickPath.re.ReplaceAllLiteralString(s, quickPath.with)
	return longNumber.re.ReplaceAllLiteralString(s, longNumber.with)
}

// SignatureLen is the number of hex characters kept from the digest.
const SignatureLen = 12

// Signature is case and whitespace insensitive. Collisions are accepted:
// it buckets messages, it is not a content identifier.
func Signature(msg string) string {
	sum := sha1.Sum([]byte(strings.ToLower(collapse(msg))))
	return hex.EncodeToString(sum[:])[:SignatureLen]
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }
