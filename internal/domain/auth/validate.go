package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedCredentials is returned when a login request fails input validation.
// It never reaches a provider.
var ErrMalformedCredentials = errors.New("malformed credentials")

var (
	credentialsValidator     *validator.Validate
	credentialsValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	credentialsValidatorOnce.Do(func() {
		credentialsValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return credentialsValidator
}

type passwordLogin struct {
	Email  string `validate:"required,email"`
	Secret string `validate:"required"`
}

// ValidateCredentials checks that the credentials carry a well-formed email
// and a non-empty secret, or a handoff token.
func ValidateCredentials(creds Credentials) error {
	if creds.IsToken() {
		if strings.TrimSpace(creds.Token) == "" {
			return fmt.Errorf("%w: token is blank", ErrMalformedCredentials)
		}
		return nil
	}
	in := passwordLogin{Email: strings.TrimSpace(creds.Email), Secret: creds.Secret}
	if err := getValidator().Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrMalformedCredentials, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
	}
	return nil
}
