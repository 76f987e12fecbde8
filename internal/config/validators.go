package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every Config.Validate call. Custom validators are
// registered once at package init.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterValidators(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterValidators adds the verifier's custom tags to v:
//
//	modelformat    a model name, optionally prefixed with "provider/"
//	storelocation  a directory, gs://bucket[/prefix] or badger://path
//	sessionid      a session id usable as a file name
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modelformat", validateModelFormat); err != nil {
		return fmt.Errorf("failed to register modelformat validator: %w", err)
	}
	if err := v.RegisterValidation("storelocation", validateStoreLocation); err != nil {
		return fmt.Errorf("failed to register storelocation validator: %w", err)
	}
	if err := v.RegisterValidation("sessionid", validateSessionID); err != nil {
		return fmt.Errorf("failed to register sessionid validator: %w", err)
	}
	return nil
}

// validateModelFormat accepts "model" and "provider/model". Bedrock model
// ids contain dots and colons, so only whitespace and empty segments are
// rejected.
func validateModelFormat(fl validator.FieldLevel) bool {
	model := fl.Field().String()
	if model == "" || strings.ContainsAny(model, " \t\n") {
		return false
	}
	provider, name, found := strings.Cut(model, "/")
	if !found {
		return true
	}
	return provider != "" && name != ""
}

// validateStoreLocation checks the scheme-specific part of a results
// location. Plain paths are accepted as given.
func validateStoreLocation(fl validator.FieldLevel) bool {
	loc := fl.Field().String()
	switch {
	case strings.HasPrefix(loc, "gs://"):
		bucket, _, _ := strings.Cut(strings.TrimPrefix(loc, "gs://"), "/")
		return bucket != ""
	case strings.HasPrefix(loc, "badger://"):
		return strings.TrimPrefix(loc, "badger://") != ""
	case strings.Contains(loc, "://"):
		return false
	default:
		return strings.TrimSpace(loc) != ""
	}
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validateSessionID(fl validator.FieldLevel) bool {
	return sessionIDPattern.MatchString(fl.Field().String())
}
