// Package intake turns free-text registration transcripts into structured
// fields and routes them to a department. Everything here is best-effort and
// pure: a human reviews the result before it is submitted.
package intake

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/medicare-plus/frontdesk/internal/domain/patient"
)

// Extraction is the structured view of a transcript. Absent fields are empty,
// except Gender which defaults to male.
type Extraction struct {
	Name     string   `json:"name"`
	Age      string   `json:"age"`
	Gender   string   `json:"gender"`
	Symptoms []string `json:"symptoms"`
	Phone    string   `json:"phone"`
}

// DefaultGender is used when the transcript does not mention one
const DefaultGender = string(patient.GenderMale)

// SymptomVocabulary is matched in this order, so extracted symptoms follow it
var SymptomVocabulary = []string{
	"headache",
	"fever",
	"cough",
	"pain",
	"nausea",
	"dizziness",
	"fatigue",
	"chest pain",
	"shortness of breath",
	"sore throat",
	"runny nose",
	"stomach ache",
	"back pain",
	"joint pain",
}

var (
	agePattern   = regexp.MustCompile(`(?i)(\d{1,3})\s*years?\s*old|\baged?\s*(?:is\s*)?(\d{1,3})`)
	phonePattern = regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-\s]?\d{4}|\d{3}[-\s]?\d{3}[-\s]?\d{4}`)
	otherPattern = regexp.MustCompile(`(?i)\bnon-?binary\b`)

	// introducers in priority order; each captures the letters that follow
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmy name is\s+([a-z][a-z'\- ]*)`),
		regexp.MustCompile(`(?i)\bi'm\s+([a-z][a-z'\- ]*)`),
		regexp.MustCompile(`(?i)\bi am\s+([a-z][a-z'\- ]*)`),
	}
)

const maxNameWords = 4

// words that end a name ("Raj and my age is", "John Smith I am")
var nameStops = map[string]bool{
	"and": true, "i": true, "i'm": true, "im": true, "my": true, "age": true,
	"aged": true, "from": true, "with": true, "having": true, "have": true,
}

// first words after "I am"/"I'm" that mean no name follows
var notNames = map[string]bool{
	"experiencing": true, "having": true, "feeling": true, "suffering": true,
	"not": true, "a": true, "an": true, "here": true, "in": true, "at": true,
	"very": true, "so": true, "currently": true, "also": true, "from": true,
	"male": true, "female": true, "calling": true, "looking": true, "the": true,
	"non-binary": true, "nonbinary": true, "other": true,
	"sick": true, "ill": true, "unwell": true, "fine": true, "okay": true,
	"worried": true, "tired": true, "pregnant": true, "diabetic": true,
}

// Extract parses a transcript. It never fails.
func Extract(transcript string) Extraction {
	return Extraction{
		Name:     extractName(transcript),
		Age:      extractAge(transcript),
		Gender:   extractGender(transcript),
		Symptoms: extractSymptoms(transcript),
		Phone:    phonePattern.FindString(transcript),
	}
}

func extractSymptoms(text string) []string {
	lower := strings.ToLower(text)
	found := make([]string, 0)
	for _, s := range SymptomVocabulary {
		if strings.Contains(lower, s) {
			found = append(found, s)
		}
	}
	return found
}

func extractAge(text string) string {
	m := agePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// female is checked first since "female" contains "male"
func extractGender(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "female"):
		return string(patient.GenderFemale)
	case strings.Contains(lower, "male"):
		return string(patient.GenderMale)
	case otherPattern.MatchString(text):
		return string(patient.GenderOther)
	}
	return DefaultGender
}

func extractName(text string) string {
	for i, p := range namePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			words := strings.Fields(m[1])
			if len(words) == 0 {
				continue
			}
			// only "my name is" is trusted without checking the next word
			if i > 0 && notNames[strings.ToLower(words[0])] {
				continue
			}
			var name []string
			for _, w := range words {
				if nameStops[strings.ToLower(w)] || len(name) == maxNameWords {
					break
				}
				name = append(name, w)
			}
			if len(name) > 0 {
				return strings.Join(name, " ")
			}
		}
	}
	return ""
}

// Registration converts a reviewed extraction into a registration payload.
// An unparseable age becomes 0 and is left for the form to correct.
func (e Extraction) Registration(doctorID string) patient.Registration {
	age, _ := strconv.Atoi(strings.TrimSpace(e.Age))
	return patient.Registration{
		Name:     e.Name,
		Phone:    e.Phone,
		Age:      age,
		Gender:   e.Gender,
		Symptoms: append([]string(nil), e.Symptoms...),
		DoctorID: doctorID,
	}
}
