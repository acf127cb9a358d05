package attendance

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStudentNotFound = errors.New("student not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrNotEnrolled     = errors.New("student not enrolled in subject")
)
