package model

import "time"

// Learner is an authenticated platform user who takes exams.
type Learner struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	CEFRLevel    string    `json:"cefr_level,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginRequest is the payload for learner authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Token   string  `json:"token"`
	Learner Learner `json:"learner"`
}

// CreateLearnerRequest is validated by cmd/create-learner before insert.
type CreateLearnerRequest struct {
	Email     string `json:"email" binding:"required,email,max=255"`
	Name      string `json:"name" binding:"required,min=2,max=255"`
	CEFRLevel string `json:"cefr_level" binding:"omitempty,cefr"`
	Password  string `json:"password" binding:"required,min=6,max=128"`
}
