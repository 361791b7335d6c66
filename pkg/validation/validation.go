package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// BoardIDRegex validates board ID format
	BoardIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

	// ElementIDRegex validates element ID format
	ElementIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// IsEmail reports whether the string looks like an email address.
// Usernames shaped like emails must be backed by a verified identity.
func IsEmail(s string) bool {
	return EmailRegex.MatchString(strings.TrimSpace(s))
}

// ValidateBoardID validates board ID
func ValidateBoardID(boardID string) error {
	if boardID == "" {
		return fmt.Errorf("board ID is required")
	}
	if len(boardID) > 100 {
		return fmt.Errorf("board ID is too long (max 100 characters)")
	}
	if !BoardIDRegex.MatchString(boardID) {
		return fmt.Errorf("invalid board ID format")
	}
	return nil
}

// ValidateSlideID validates slide ID
func ValidateSlideID(slideID string) error {
	if slideID == "" {
		return fmt.Errorf("slide ID is required")
	}
	if len(slideID) > 100 {
		return fmt.Errorf("slide ID is too long (max 100 characters)")
	}
	if !BoardIDRegex.MatchString(slideID) {
		return fmt.Errorf("invalid slide ID format")
	}
	return nil
}

// ValidateElementID validates element ID
func ValidateElementID(elementID string) error {
	if elementID == "" {
		return fmt.Errorf("element ID is required")
	}
	if len(elementID) > 100 {
		return fmt.Errorf("element ID is too long (max 100 characters)")
	}
	if !ElementIDRegex.MatchString(elementID) {
		return fmt.Errorf("invalid element ID format")
	}
	return nil
}

// ValidateBoardName validates board name
func ValidateBoardName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) > 100 {
		return fmt.Errorf("board name is too long (max 100 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("board name contains invalid characters")
	}
	return nil
}

// ValidateUsername validates username
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if utf8.RuneCountInString(username) > 100 {
		return fmt.Errorf("username is too long (max 100 characters)")
	}
	if !utf8.ValidString(username) {
		return fmt.Errorf("username contains invalid characters")
	}
	return nil
}

// ValidateMatcher validates a permission matcher: the wildcard, an
// email-domain suffix or an exact identity token.
func ValidateMatcher(matcher string) error {
	if matcher == "" {
		return fmt.Errorf("matcher is required")
	}
	if matcher == "*" {
		return nil
	}
	if len(matcher) > 254 {
		return fmt.Errorf("matcher is too long (max 254 characters)")
	}
	if strings.ContainsAny(matcher, " \t\r\n") {
		return fmt.Errorf("matcher must not contain whitespace")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
