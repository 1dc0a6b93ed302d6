// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Field constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
	MinPasswordLength = 8
	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,3})+$`)
)

// RegisterInput carries registration fields as submitted by the caller.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// normalize trims the identity fields and lowercases the email. The password
// is left untouched.
func (in RegisterInput) normalize() RegisterInput {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.TrimSpace(in.Role)
	return in
}

// Validate returns a validation error listing every missing field, or every
// malformed field when all are present.
func (in RegisterInput) Validate() error {
	missing := map[string]string{}
	if in.Username == "" {
		missing["username"] = "Username is required"
	}
	if in.Email == "" {
		missing["email"] = "Email is required"
	}
	if in.Password == "" {
		missing["password"] = "Password is required"
	}
	if len(missing) > 0 {
		return validationError(missing, MissingFieldsMessage)
	}

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Username,
			validation.Length(MinUsernameLength, MaxUsernameLength).
				Error("Username must be between 3 and 20 characters long"),
			validation.Match(usernamePattern).
				Error("Username can only contain letters, numbers, and underscores"),
		),
		validation.Field(&in.Email,
			validation.Match(emailPattern).Error("Please enter a valid email"),
		),
		validation.Field(&in.Password,
			validation.By(checkPassword),
		),
		validation.Field(&in.Role,
			validation.In(string(RoleUser), string(RoleAdmin)).
				Error("Role must be User or Admin"),
		),
	)
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return validationError(nil, err.Error())
	}
	fields := make(map[string]string, len(errs))
	for name, fieldErr := range errs {
		fields[name] = fieldErr.Error()
	}
	return validationError(fields, firstMessage(fields))
}

func checkPassword(value any) error {
	password, _ := value.(string)
	if len([]rune(password)) < MinPasswordLength {
		return errors.New("Password must be at least 8 characters long")
	}
	if len(password) > MaxPasswordBytes {
		return errors.New("Password cannot exceed 72 bytes")
	}
	return nil
}

// firstMessage picks a stable summary message for a multi-field failure.
func firstMessage(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fields[names[0]]
}

// ValidateCredentials checks that both login fields are present.
func ValidateCredentials(identifier, password string) error {
	missing := map[string]string{}
	if strings.TrimSpace(identifier) == "" {
		missing["identifier"] = "Username or email is required"
	}
	if password == "" {
		missing["password"] = "Password is required"
	}
	if len(missing) > 0 {
		return validationError(missing, MissingFieldsMessage)
	}
	return nil
}
