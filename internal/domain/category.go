package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

var (
	certificateWords = []string{"certificate", "certificat", "zertifikat", "diploma"}
	badgeWords       = []string{"badge", "abzeichen"}
)

// InferCategory decides a template's category when it was not stored explicitly.
//
// Order: an explicit category wins; then the title/description text; then
// the presence of any automatic rule (badge) versus none (certificate).
func InferCategory(explicit string, text string, rules []Rule) Category {
	if c, ok := ParseCategory(explicit); ok {
		return c
	}

	folded := cases.Fold().String(text)
	for _, w := range certificateWords {
		if strings.Contains(folded, w) {
			return CategoryCertificate
		}
	}
	for _, w := range badgeWords {
		if strings.Contains(folded, w) {
			return CategoryBadge
		}
	}

	for _, r := range rules {
		if r.Kind == RuleAutomatic {
			return CategoryBadge
		}
	}
	return CategoryCertificate
}
