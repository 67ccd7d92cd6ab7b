// Package service implements the deterministic and model-assisted tiers of
// the decision-support pipeline: the interaction rule engine, the two-tier
// drug interaction checker, and the prescription advisor.
package service

import (
	"regexp"
	"strings"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

// interactionRules is the curated drug-drug interaction table. Entries may
// name drug classes (e.g. "ssri") as well as literal drugs; matching is
// performed against both the normalized drug name and its class alias.
var interactionRules = []domain.InteractionRule{
	{DrugA: "warfarin", DrugB: "aspirin", Severity: domain.SeverityHigh,
		Message: "Increased risk of bleeding. Both drugs affect blood clotting."},
	{DrugA: "warfarin", DrugB: "ibuprofen", Severity: domain.SeverityHigh,
		Message: "NSAIDs increase bleeding risk with warfarin."},
	{DrugA: "metformin", DrugB: "alcohol", Severity: domain.SeverityModerate,
		Message: "Alcohol can increase risk of lactic acidosis with metformin."},
	{DrugA: "lisinopril", DrugB: "potassium", Severity: domain.SeverityModerate,
		Message: "ACE inhibitors can increase potassium levels. Monitor closely."},
	{DrugA: "simvastatin", DrugB: "grapefruit", Severity: domain.SeverityModerate,
		Message: "Grapefruit can increase statin levels, raising risk of side effects."},
	{DrugA: "methotrexate", DrugB: "ibuprofen", Severity: domain.SeverityHigh,
		Message: "NSAIDs can increase methotrexate toxicity."},
	{DrugA: "ssri", DrugB: "maoi", Severity: domain.SeverityCritical,
		Message: "Serotonin syndrome risk. Never combine SSRIs with MAOIs."},
	{DrugA: "fluoxetine", DrugB: "tramadol", Severity: domain.SeverityHigh,
		Message: "Risk of serotonin syndrome and seizures."},
	{DrugA: "ciprofloxacin", DrugB: "antacids", Severity: domain.SeverityModerate,
		Message: "Antacids reduce ciprofloxacin absorption. Take 2 hours apart."},
	{DrugA: "digoxin", DrugB: "amiodarone", Severity: domain.SeverityHigh,
		Message: "Amiodarone increases digoxin levels. Reduce digoxin dose."},
}

// drugClasses maps class aliases to their member drugs for broader matching.
var drugClasses = map[string][]string{
	"ssri":          {"fluoxetine", "sertraline", "paroxetine", "citalopram", "escitalopram"},
	"maoi":          {"phenelzine", "tranylcypromine", "selegiline"},
	"nsaid":         {"ibuprofen", "naproxen", "diclofenac", "celecoxib", "aspirin"},
	"statin":        {"simvastatin", "atorvastatin", "rosuvastatin", "pravastatin"},
	"ace_inhibitor": {"lisinopril", "enalapril", "ramipril", "captopril"},
	"blood_thinner": {"warfarin", "heparin", "rivaroxaban", "apixaban"},
	"penicillin":    {"penicillin", "amoxicillin", "ampicillin", "piperacillin"},
	"sulfonamide":   {"sulfamethoxazole", "sulfasalazine", "sulfadiazine"},
}

// allergyConflicts is the curated allergen cross-reactivity table. Drug may
// name a class alias.
var allergyConflicts = []domain.AllergyConflict{
	{Allergen: "penicillin", Drug: "penicillin", Severity: domain.SeverityCritical,
		Message: "Patient has documented penicillin allergy. Penicillin-class antibiotics are contraindicated."},
	{Allergen: "sulfa", Drug: "sulfonamide", Severity: domain.SeverityCritical,
		Message: "Patient has documented sulfa allergy. Sulfonamide antibiotics are contraindicated."},
	{Allergen: "aspirin", Drug: "nsaid", Severity: domain.SeverityHigh,
		Message: "Aspirin allergy carries cross-reactivity risk with other NSAIDs."},
	{Allergen: "nsaid", Drug: "nsaid", Severity: domain.SeverityCritical,
		Message: "Patient has documented NSAID allergy."},
}

// dosageSuffix matches trailing dosage tokens such as "81mg", "10 mg", or
// "2 tablets twice daily" so that "aspirin 81mg" normalizes to "aspirin".
var dosageSuffix = regexp.MustCompile(`\s+\d+(\.\d+)?\s*(mg|mcg|g|ml|iu|units?|tablets?|puffs?)?\b.*$`)

// RuleEngine performs the deterministic tier-1 scan of a medication list
// against the curated interaction and allergy tables. It is a pure component:
// same inputs always yield the same outputs, and it performs no I/O.
type RuleEngine struct {
	ruleIndex  map[string]*domain.InteractionRule
	classIndex map[string]string
}

// NewRuleEngine builds the lookup indexes from the static tables.
func NewRuleEngine() *RuleEngine {
	e := &RuleEngine{
		ruleIndex:  make(map[string]*domain.InteractionRule, len(interactionRules)),
		classIndex: make(map[string]string),
	}

	for i := range interactionRules {
		rule := &interactionRules[i]
		e.ruleIndex[pairKey(rule.DrugA, rule.DrugB)] = rule
	}

	for class, members := range drugClasses {
		for _, member := range members {
			e.classIndex[member] = class
		}
	}

	return e
}

// NormalizeDrugName lowercases, trims, and strips dosage suffixes from a drug
// name so it can be matched against the rule tables.
func NormalizeDrugName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = dosageSuffix.ReplaceAllString(normalized, "")
	return strings.TrimSpace(normalized)
}

// ClassOf returns the class alias for a drug, or "" when the drug belongs to
// no known class.
func (e *RuleEngine) ClassOf(drug string) string {
	return e.classIndex[NormalizeDrugName(drug)]
}

// EvaluatePairs scans every unordered pair of medications against the
// interaction table, matching both literal names and class aliases. At most
// one warning is emitted per pair; literal-name matches take precedence over
// class matches.
func (e *RuleEngine) EvaluatePairs(medications []string) []domain.InteractionWarning {
	var warnings []domain.InteractionWarning

	normalized := make([]string, len(medications))
	for i, med := range medications {
		normalized[i] = NormalizeDrugName(med)
	}

	for i := 0; i < len(normalized); i++ {
		for j := i + 1; j < len(normalized); j++ {
			rule := e.matchPair(normalized[i], normalized[j])
			if rule == nil {
				continue
			}
			warnings = append(warnings, domain.InteractionWarning{
				Drugs:    []string{normalized[i], normalized[j]},
				Severity: rule.Severity,
				Message:  rule.Message,
				Source:   domain.SourceRule,
			})
		}
	}

	return warnings
}

// matchPair finds the first interaction rule matching a pair of normalized
// drug names, trying literal names before class aliases.
func (e *RuleEngine) matchPair(a, b string) *domain.InteractionRule {
	candidatesA := []string{a}
	if class := e.classIndex[a]; class != "" {
		candidatesA = append(candidatesA, class)
	}
	candidatesB := []string{b}
	if class := e.classIndex[b]; class != "" {
		candidatesB = append(candidatesB, class)
	}

	for _, ca := range candidatesA {
		for _, cb := range candidatesB {
			if rule, ok := e.ruleIndex[pairKey(ca, cb)]; ok {
				return rule
			}
		}
	}
	return nil
}

// EvaluateAllergies scans every (medication, allergy) pair against the
// allergy conflict table and, as a safety net, flags any medication whose
// name overlaps a declared allergen.
func (e *RuleEngine) EvaluateAllergies(medications, allergies []string) []domain.InteractionWarning {
	var warnings []domain.InteractionWarning

	for _, med := range medications {
		normMed := NormalizeDrugName(med)
		medClass := e.classIndex[normMed]

		for _, allergy := range allergies {
			normAllergy := NormalizeDrugName(allergy)
			if normAllergy == "" || normMed == "" {
				continue
			}

			if conflict := e.matchAllergy(normMed, medClass, normAllergy); conflict != nil {
				warnings = append(warnings, domain.InteractionWarning{
					Drugs:    []string{normMed},
					Severity: conflict.Severity,
					Message:  conflict.Message + " (allergen: " + normAllergy + ")",
					Source:   domain.SourceRule,
				})
				continue
			}

			// Name-overlap safety net for allergens not in the curated table.
			if strings.Contains(normMed, normAllergy) || strings.Contains(normAllergy, normMed) {
				warnings = append(warnings, domain.InteractionWarning{
					Drugs:    []string{normMed},
					Severity: domain.SeverityCritical,
					Message:  "Patient has documented allergy to " + normAllergy + ".",
					Source:   domain.SourceRule,
				})
			}
		}
	}

	return warnings
}

// matchAllergy finds an allergy conflict for a normalized medication name and
// its class, if any.
func (e *RuleEngine) matchAllergy(med, medClass, allergen string) *domain.AllergyConflict {
	for i := range allergyConflicts {
		conflict := &allergyConflicts[i]
		if conflict.Allergen != allergen {
			continue
		}
		if conflict.Drug == med || conflict.Drug == medClass {
			return conflict
		}
		// The conflict may reference a class the medication belongs to via
		// the class member table.
		if members, ok := drugClasses[conflict.Drug]; ok {
			for _, member := range members {
				if member == med {
					return conflict
				}
			}
		}
	}
	return nil
}

// pairKey builds an order-independent lookup key for a drug pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
