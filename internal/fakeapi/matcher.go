package fakeapi

import (
	"math"
	"strings"

	"github.com/and161185/resumatch/internal/convert"
)

// skillVocabulary is the closed set of skills the stub recognizes.
var skillVocabulary = []string{
	"go", "java", "python", "javascript", "typescript", "react", "spring", "sql", "postgresql",
	"docker", "kubernetes", "aws", "gcp", "kafka", "redis", "grpc", "rest", "git", "linux", "terraform",
}

func tokens(text string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '#')
	}) {
		out[f] = true
	}
	return out
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// match scores resume text against a job description by vocabulary overlap.
func match(jobDescription, resumeText string) convert.Analysis {
	job, res := tokens(jobDescription), tokens(resumeText)
	matched, missing := []string{}, []string{}
	for _, s := range skillVocabulary {
		if !job[s] {
			continue
		}
		if res[s] {
			matched = append(matched, s)
		} else {
			missing = append(missing, s)
		}
	}
	var pct float64
	if n := len(matched) + len(missing); n > 0 {
		pct = round1(float64(len(matched)) * 100 / float64(n))
	}
	suggestions := []string{}
	for i, s := range missing {
		if i == 5 {
			break
		}
		suggestions = append(suggestions, "Consider adding experience with "+s+".")
	}
	if pct < 50 {
		suggestions = append(suggestions, "Tailor your resume summary to the job description.")
	}
	words := len(strings.Fields(resumeText))
	readability := round1(math.Min(100, float64(words)/3+40))
	ats := words > 0
	return convert.Analysis{
		MatchPercentage:  pct,
		ResumeScore:      round1(pct / 10),
		MatchedSkills:    matched,
		MissingSkills:    missing,
		Suggestions:      suggestions,
		ReadabilityScore: &readability,
		ATSCompatible:    &ats,
	}
}
