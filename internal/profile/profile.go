// Package profile defines the closed set of domain processing profiles. A
// profile selects the prompt templates, entity types and analyzer weighting
// used for one document.
package profile

// Profile is one of the known processing domains.
type Profile string

const (
	General    Profile = "general"
	Financial  Profile = "financial"
	Legal      Profile = "legal"
	Healthcare Profile = "healthcare"
	Insurance  Profile = "insurance"
)

// Spec carries everything the pipeline needs for one profile.
type Spec struct {
	PromptTemplate      string
	CheckPromptTemplate string
	EntityTypes         []string
	Weights             map[string]float64
	RequiredChecks      []string
}

// Parse maps a raw profile tag to a known Profile. Unknown tags resolve to
// General and report ok=false so callers can log the fallback instead of
// silently absorbing it.
func Parse(raw string) (Profile, bool) {
	switch Profile(raw) {
	case General, Financial, Legal, Healthcare, Insurance:
		return Profile(raw), true
	default:
		return General, false
	}
}

// Spec resolves the profile's processing configuration. The switch is
// exhaustive over the closed set; an unrecognized value (which Parse never
// produces) falls back to the General spec.
func (p Profile) Spec() Spec {
	switch p {
	case Financial:
		return Spec{
			PromptTemplate:      "Analyze this financial document. Summarize transactions, balances and obligations. Flag irregular amounts.",
			CheckPromptTemplate: "Check the extracted financial figures against the source text. Do not re-extract; report per-field discrepancies only.",
			EntityTypes:         []string{"amount", "account", "date", "party", "instrument"},
			Weights:             map[string]float64{"vision": 0.9, "language": 1.1},
			RequiredChecks:      []string{"amount-totals", "date-consistency"},
		}
	case Legal:
		return Spec{
			PromptTemplate:      "Analyze this legal document. Summarize parties, obligations, deadlines and governing terms.",
			CheckPromptTemplate: "Check the extracted clauses and parties against the source text. Do not re-extract; report per-field discrepancies only.",
			EntityTypes:         []string{"party", "clause", "date", "jurisdiction", "obligation"},
			Weights:             map[string]float64{"vision": 0.8, "language": 1.2},
			RequiredChecks:      []string{"party-names", "effective-dates"},
		}
	case Healthcare:
		return Spec{
			PromptTemplate:      "Analyze this healthcare document. Summarize diagnoses, procedures, medications and provider details.",
			CheckPromptTemplate: "Check the extracted clinical values against the source text. Do not re-extract; report per-field discrepancies only.",
			EntityTypes:         []string{"diagnosis", "procedure", "medication", "provider", "date"},
			Weights:             map[string]float64{"vision": 1.0, "language": 1.0},
			RequiredChecks:      []string{"medication-dosage", "code-validity"},
		}
	case Insurance:
		return Spec{
			PromptTemplate:      "Analyze this insurance document. Summarize coverage, claims, exclusions and policy terms.",
			CheckPromptTemplate: "Check the extracted policy values against the source text. Do not re-extract; report per-field discrepancies only.",
			EntityTypes:         []string{"policy-number", "coverage", "claim", "premium", "date"},
			Weights:             map[string]float64{"vision": 0.9, "language": 1.1},
			RequiredChecks:      []string{"coverage-limits", "claim-amounts"},
		}
	default:
		return Spec{
			PromptTemplate:      "Analyze this document. Summarize its purpose, key facts and notable findings.",
			CheckPromptTemplate: "Check the extracted values against the source text. Do not re-extract; report per-field discrepancies only.",
			EntityTypes:         []string{"person", "organization", "date", "amount", "location"},
			Weights:             map[string]float64{"vision": 1.0, "language": 1.0},
			RequiredChecks:      nil,
		}
	}
}
