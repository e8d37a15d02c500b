package patient

import (
	"errors"
	"testing"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

func TestNew(t *testing.T) {
	p, err := New(Registration{
		Name:     "  Jane Doe ",
		Phone:    "9876543210",
		Age:      32,
		Gender:   "Female",
		Symptoms: []string{"headache", " ", "fever "},
		DoctorID: "DOC-001",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ID == "" {
		t.Error("expected generated id")
	}
	if p.Name != "Jane Doe" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Gender != GenderFemale {
		t.Errorf("gender = %q", p.Gender)
	}
	if len(p.Symptoms) != 2 || p.Symptoms[1] != "fever" {
		t.Errorf("symptoms = %v", p.Symptoms)
	}
	if p.History == nil || len(p.History) != 0 {
		t.Errorf("history should start empty, got %v", p.History)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	cases := map[string]Registration{
		"missing name":   {Age: 3, Gender: "male", DoctorID: "D"},
		"negative age":   {Name: "A", Age: -1, Gender: "male", DoctorID: "D"},
		"bad gender":     {Name: "A", Age: 3, Gender: "unknown", DoctorID: "D"},
		"missing doctor": {Name: "A", Age: 3, Gender: "other"},
	}
	for name, reg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(reg)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}
