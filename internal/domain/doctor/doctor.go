// Package doctor holds the doctor record. The core only reads it.
package doctor

import "time"

// Doctor is identified by a human-assigned doctorId such as "DOC-001"
type Doctor struct {
	ID             string    `json:"doctorId" bson:"_id"`
	Name           string    `json:"name" bson:"name"`
	Phone          string    `json:"phone" bson:"phone"`
	Email          string    `json:"email" bson:"email"`
	Specialization string    `json:"specialization" bson:"specialization"`
	PasswordHash   string    `json:"-" bson:"passwordHash"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
}
