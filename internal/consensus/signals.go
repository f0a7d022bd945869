package consensus

import (
	"strings"
	"unicode"
)

// Keyword sets used to rank findings. These are pattern-matching heuristics,
// not statistical models; each predicate is exported so it can be tested
// against literal fixtures.
var (
	highValueKeywords = []string{
		"compliance", "risk", "critical", "violation", "accuracy",
		"fraud", "breach", "penalty", "liability", "discrepancy",
	}

	mediumValueKeywords = []string{
		"detected", "identified", "analysis", "confirmed",
		"reviewed", "consistent", "extracted", "verified",
	}
)

// CountHighValueKeywords returns how many high-value keywords occur in the
// finding, counting repeated occurrences.
func CountHighValueKeywords(finding string) int {
	return countKeywords(finding, highValueKeywords)
}

// CountMediumValueKeywords returns how many medium-value keywords occur in
// the finding, counting repeated occurrences.
func CountMediumValueKeywords(finding string) int {
	return countKeywords(finding, mediumValueKeywords)
}

func countKeywords(finding string, keywords []string) int {
	lowered := strings.ToLower(finding)
	count := 0
	for _, keyword := range keywords {
		count += strings.Count(lowered, keyword)
	}
	return count
}

// ContainsDigit reports whether the finding carries a numeric value.
func ContainsDigit(finding string) bool {
	for _, r := range finding {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// ContainsAcronym reports whether the finding contains a run of two or more
// uppercase letters, e.g. "KYC" or "HIPAA".
func ContainsAcronym(finding string) bool {
	run := 0
	for _, r := range finding {
		if unicode.IsUpper(r) {
			run++
			if run >= 2 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
