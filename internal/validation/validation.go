// Package validation provides input validation middleware for the Helanet API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// phoneRegex validates Kenyan MSISDNs in international format (2547XXXXXXXX / 2541XXXXXXXX)
	phoneRegex = regexp.MustCompile(`^254(7|1)\d{8}$`)
	// idRegex validates internal identifiers (prefix_hex produced by idgen)
	idRegex = regexp.MustCompile(`^[a-z]+_[a-f0-9]+$`)
	// amountRegex accepts unsigned decimals like "1500" or "1500.50"
	amountRegex = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPhone checks if a string is a valid Kenyan phone number in international format
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// IsValidID checks if a string looks like an internal identifier
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// NormalizePhone converts local Kenyan formats (07XX, +254...) to international 254 form
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")

	if strings.HasPrefix(phone, "0") && len(phone) == 10 {
		phone = "254" + phone[1:]
	}

	return phone
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidPhone checks if a field is a valid Kenyan phone number
func ValidPhone(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidPhone(value) {
			return &ValidationError{Field: field, Message: "must be a valid phone number (2547XXXXXXXX)"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// IDParamMiddleware validates the :id URL parameter on routes that use it.
// Apply to route groups that include :id params to reject malformed identifiers early.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must be a valid identifier",
			})
			return
		}
		c.Next()
	}
}

// ValidAmount checks that a value is a positive decimal money amount.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // use Required for required fields
		}
		if !amountRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "invalid amount format"}
		}
		if strings.Trim(value, "0.") == "" {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}
