package intake

import "strings"

// Department pairs a department name with the keywords that point to it
type Department struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// Match is the outcome of routing a transcript
type Match struct {
	Department string `json:"department"`
	Hits       int    `json:"hits"`
}

// Matcher routes a transcript to the department with the most keyword hits.
// Departments are kept in a slice so ties resolve to the earliest entry.
type Matcher struct {
	departments []Department
	fallback    string
}

// DefaultFallback receives transcripts that hit no keyword
const DefaultFallback = "General Medicine"

// DefaultDepartments is the hospital's routing table
var DefaultDepartments = []Department{
	{Name: "Cardiology", Keywords: []string{"chest pain", "heart", "palpitation", "blood pressure", "shortness of breath", "cardiologist"}},
	{Name: "Neurology", Keywords: []string{"headache", "migraine", "dizziness", "seizure", "numbness", "memory loss", "neurologist"}},
	{Name: "Orthopedics", Keywords: []string{"back pain", "joint pain", "fracture", "bone", "knee", "shoulder", "sprain"}},
	{Name: "Ophthalmology", Keywords: []string{"eye", "vision", "blurry", "cataract"}},
	{Name: "Pediatrics", Keywords: []string{"child", "baby", "infant", "toddler", "vaccination"}},
	{Name: "General Medicine", Keywords: []string{"fever", "cough", "cold", "fatigue", "sore throat", "runny nose", "nausea", "stomach ache"}},
}

// NewMatcher copies the table and lower-cases its keywords
func NewMatcher(departments []Department, fallback string) *Matcher {
	table := make([]Department, len(departments))
	for i, d := range departments {
		kws := make([]string, 0, len(d.Keywords))
		for _, k := range d.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		table[i] = Department{Name: d.Name, Keywords: kws}
	}
	return &Matcher{departments: table, fallback: fallback}
}

// DefaultMatcher uses DefaultDepartments and DefaultFallback
func DefaultMatcher() *Matcher {
	return NewMatcher(DefaultDepartments, DefaultFallback)
}

// Match counts, per department, how many keywords occur in the transcript
func (m *Matcher) Match(transcript string) Match {
	lower := strings.ToLower(transcript)
	best := Match{Department: m.fallback}
	for _, d := range m.departments {
		hits := 0
		for _, k := range d.Keywords {
			if strings.Contains(lower, k) {
				hits++
			}
		}
		if hits > best.Hits {
			best = Match{Department: d.Name, Hits: hits}
		}
	}
	return best
}

// Departments returns the routing table in order
func (m *Matcher) Departments() []Department {
	return append([]Department(nil), m.departments...)
}
