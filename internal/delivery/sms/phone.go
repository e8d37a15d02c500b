package sms

import "strings"

// DefaultCountryCode is prepended to numbers without one
const DefaultCountryCode = "+91"

var separators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone strips common separators and prefixes countryCode unless the
// number already starts with "+".
func NormalizePhone(phone, countryCode string) string {
	p := separators.Replace(strings.TrimSpace(phone))
	if p == "" || strings.HasPrefix(p, "+") {
		return p
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if !strings.HasPrefix(countryCode, "+") {
		countryCode = "+" + countryCode
	}
	return countryCode + p
}
