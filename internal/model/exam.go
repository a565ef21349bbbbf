package model

import (
	"github.com/google/uuid"
)

// ExamSet identifies a drill or exam that can be attempted.
type ExamSet struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
