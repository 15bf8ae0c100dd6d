// Package reviewer is the Reviewer Driver: it invokes the external
// reviewer tool, parses its structured verdict, classifies failures into
// the retry state machine spec.md §4.5/§9 describes, and runs the
// plan/code dialogue loops (spec.md §4.8 steps 1 and 3).
package reviewer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Verdict is the reviewer's verdict alphabet (spec.md §4.5), plus the
// internal outcomes this driver itself produces.
type Verdict string

const (
	Approve          Verdict = "APPROVE"
	NeedsDiscussion  Verdict = "NEEDS_DISCUSSION"
	MajorConcerns    Verdict = "MAJOR_CONCERNS"
	NeedsFixes       Verdict = "NEEDS_FIXES"
	MajorProblems    Verdict = "MAJOR_PROBLEMS"
	NoVerdict        Verdict = "NO_VERDICT"
	RateLimited      Verdict = "RATE_LIMITED"
	VerdictError     Verdict = "ERROR"
)

// IsReal reports whether v is one of the reviewer's own alphabet values
// (not NO_VERDICT, RATE_LIMITED, or ERROR).
func (v Verdict) IsReal() bool {
	switch v {
	case Approve, NeedsDiscussion, MajorConcerns, NeedsFixes, MajorProblems:
		return true
	}
	return false
}

// IssueSeverity is a reviewer-reported issue's severity (distinct alphabet
// from the Flow Tracer's store.Severity).
type IssueSeverity string

const (
	SeverityMinor    IssueSeverity = "minor"
	SeverityMajor    IssueSeverity = "major"
	SeverityCritical IssueSeverity = "critical"
	SeverityUnknown  IssueSeverity = "unknown"
)

func normalizeSeverity(s string) IssueSeverity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minor":
		return SeverityMinor
	case "major":
		return SeverityMajor
	case "critical":
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}

// Issue is one reviewer-reported issue.
type Issue struct {
	Description string        `json:"description"`
	Severity    IssueSeverity `json:"severity"`
}

// String renders an issue as downstream consumers expect:
// "[<severity>] <description>" (spec.md §4.5).
func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s", i.Severity, i.Description)
}

// Result is one parsed reviewer response.
type Result struct {
	ReviewPerformed bool    `json:"review_performed"`
	Verdict         Verdict `json:"verdict"`
	Issues          []Issue `json:"issues"`
	Summary         string  `json:"summary"`
}

// IssueStrings renders every issue via Issue.String.
func (r *Result) IssueStrings() []string {
	out := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		out[i] = issue.String()
	}
	return out
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// wireResult mirrors the raw JSON shape before severities are normalized.
type wireResult struct {
	ReviewPerformed bool   `json:"review_performed"`
	Verdict         string `json:"verdict"`
	Summary         string `json:"summary"`
	Issues          []struct {
		Description string `json:"description"`
		Severity    string `json:"severity"`
	} `json:"issues"`
}

// ParseVerdict extracts a fenced JSON block first, falling back to the
// first raw JSON object containing "review_performed" (spec.md §4.5's
// parsing algorithm). It returns an error if no valid verdict document can
// be found, which the caller maps to NO_VERDICT.
func ParseVerdict(raw string) (*Result, error) {
	candidates := make([]string, 0, 2)
	if m := fencedJSONPattern.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if obj := firstRawJSONObject(raw); obj != "" {
		candidates = append(candidates, obj)
	}

	for _, candidate := range candidates {
		var wire wireResult
		if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
			repaired, repairErr := jsonrepair.JSONRepair(candidate)
			if repairErr != nil {
				continue
			}
			if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
				continue
			}
		}
		result := &Result{
			ReviewPerformed: wire.ReviewPerformed,
			Verdict:         Verdict(strings.ToUpper(strings.TrimSpace(wire.Verdict))),
			Summary:         wire.Summary,
		}
		for _, iss := range wire.Issues {
			result.Issues = append(result.Issues, Issue{
				Description: iss.Description,
				Severity:    normalizeSeverity(iss.Severity),
			})
		}
		return result, nil
	}
	return nil, fmt.Errorf("no parseable review_performed document found in reviewer output")
}

// firstRawJSONObject scans raw for the first balanced-brace JSON object
// containing "review_performed", ignoring fenced-block delimiters.
func firstRawJSONObject(raw string) string {
	idx := strings.Index(raw, `"review_performed"`)
	if idx == -1 {
		return ""
	}
	start := strings.LastIndex(raw[:idx], "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
