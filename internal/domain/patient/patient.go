// Package patient holds the patient record registered at the front desk.
package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

// Gender is the recorded patient gender
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// ParseGender accepts any casing of the three enum values
func ParseGender(s string) (Gender, bool) {
	switch Gender(strings.ToLower(strings.TrimSpace(s))) {
	case GenderMale:
		return GenderMale, true
	case GenderFemale:
		return GenderFemale, true
	case GenderOther:
		return GenderOther, true
	}
	return "", false
}

// Patient is a registered patient. History lists prescription ids in visit order.
type Patient struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Phone     string    `json:"phone,omitempty" bson:"phone,omitempty"`
	Age       int       `json:"age" bson:"age"`
	Gender    Gender    `json:"gender" bson:"gender"`
	Symptoms  []string  `json:"symptoms" bson:"symptoms"`
	DoctorID  string    `json:"doctorId" bson:"doctorId"`
	History   []string  `json:"history" bson:"history"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Registration is the payload accepted from the registration form
type Registration struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Age      int      `json:"age"`
	Gender   string   `json:"gender"`
	Symptoms []string `json:"symptoms"`
	DoctorID string   `json:"doctorId"`
}

// New validates a registration and builds a patient with an empty history
func New(reg Registration) (*Patient, error) {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if reg.Age < 0 {
		return nil, apperr.Validation("age must not be negative")
	}
	gender, ok := ParseGender(reg.Gender)
	if !ok {
		return nil, apperr.Validation("gender must be one of male, female, other")
	}
	if strings.TrimSpace(reg.DoctorID) == "" {
		return nil, apperr.Validation("doctorId is required")
	}

	symptoms := make([]string, 0, len(reg.Symptoms))
	for _, s := range reg.Symptoms {
		if s = strings.TrimSpace(s); s != "" {
			symptoms = append(symptoms, s)
		}
	}

	now := time.Now().UTC()
	return &Patient{
		ID:        uuid.New().String(),
		Name:      name,
		Phone:     strings.TrimSpace(reg.Phone),
		Age:       reg.Age,
		Gender:    gender,
		Symptoms:  symptoms,
		DoctorID:  reg.DoctorID,
		History:   make([]string, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
