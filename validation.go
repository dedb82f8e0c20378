package session

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	MinPasswordLength = 8
	MinNameLength     = 2
)

const (
	msgEmail            = "Please enter a valid email address"
	msgEmailRequired    = "Email is required"
	msgPasswordLength   = "Password must be at least 8 characters"
	msgPasswordRequired = "Password is required"
	msgPasswordMismatch = "Passwords do not match"
	msgNameLength       = "Name must be at least 2 characters"
	msgURL              = "Please enter a valid URL"
)

// RegisterInput is the registration form. A nil ConfirmPassword means the
// form has no confirmation field; any supplied value, empty included, must
// match Password.
type RegisterInput struct {
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword *string `json:"confirm_password,omitempty"`
}

func (in RegisterInput) Validate() error {
	return validate("invalid registration data", func() error {
		return validation.ValidateStruct(&in,
			validation.Field(&in.Name,
				validation.Required.Error(msgNameLength),
				validation.RuneLength(MinNameLength, 0).Error(msgNameLength),
			),
			emailField(&in.Email),
			passwordField(&in.Password),
			validation.Field(&in.ConfirmPassword, matches(in.ConfirmPassword, in.Password)),
		)
	})
}

// SignInInput is the login form.
type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in SignInInput) Validate() error {
	return validate("invalid sign in data", func() error {
		return validation.ValidateStruct(&in,
			emailField(&in.Email),
			validation.Field(&in.Password, validation.Required.Error(msgPasswordRequired)),
		)
	})
}

// PasswordResetRequest is the forgot password form.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

func (in PasswordResetRequest) Validate() error {
	return validate("invalid password reset request", func() error {
		return validation.ValidateStruct(&in, emailField(&in.Email))
	})
}

// ResetPasswordInput sets a new password inside a recovery context. Token is
// the one-time recovery token when the context has not been opened yet.
type ResetPasswordInput struct {
	Token           string  `json:"token,omitempty"`
	Password        string  `json:"password"`
	ConfirmPassword *string `json:"confirm_password,omitempty"`
}

func (in ResetPasswordInput) Validate() error {
	return validate("invalid password reset data", func() error {
		return validation.ValidateStruct(&in,
			passwordField(&in.Password),
			validation.Field(&in.ConfirmPassword, matches(in.ConfirmPassword, in.Password)),
		)
	})
}

// ChangePasswordInput is the change password form of a signed in identity.
type ChangePasswordInput struct {
	CurrentPassword string  `json:"current_password"`
	NewPassword     string  `json:"new_password"`
	ConfirmPassword *string `json:"confirm_password,omitempty"`
}

func (in ChangePasswordInput) Validate() error {
	return validate("invalid password change data", func() error {
		return validation.ValidateStruct(&in,
			validation.Field(&in.CurrentPassword, validation.Required.Error(msgPasswordRequired)),
			passwordField(&in.NewPassword),
			validation.Field(&in.ConfirmPassword, matches(in.ConfirmPassword, in.NewPassword)),
		)
	})
}

// Validate checks the supplied fields only.
func (u ProfileUpdate) Validate() error {
	return validate("invalid profile data", func() error {
		return validation.ValidateStruct(&u,
			validation.Field(&u.FullName,
				validation.By(func(value any) error {
					if u.FullName != nil && len([]rune(*u.FullName)) < MinNameLength {
						return validation.NewError("validation_name_length", msgNameLength)
					}
					return nil
				}),
			),
			validation.Field(&u.Website, is.URL.Error(msgURL)),
			validation.Field(&u.AvatarURL, is.URL.Error(msgURL)),
		)
	})
}

func emailField(email *string) *validation.FieldRules {
	return validation.Field(email,
		validation.Required.Error(msgEmailRequired),
		is.EmailFormat.Error(msgEmail),
	)
}

func passwordField(password *string) *validation.FieldRules {
	return validation.Field(password,
		validation.Required.Error(msgPasswordLength),
		validation.Length(MinPasswordLength, 0).Error(msgPasswordLength),
	)
}

// matches validates a confirmation value against its source when one was
// supplied.
func matches(confirm *string, source string) validation.Rule {
	return validation.By(func(any) error {
		if confirm != nil && *confirm != source {
			return validation.NewError("validation_password_mismatch", msgPasswordMismatch)
		}
		return nil
	})
}

func validate(message string, fn func() error) error {
	if err := goerrors.ValidateWithOzzo(fn, message); err != nil {
		err.TextCode = TextCodeValidation
		err.Code = goerrors.CodeBadRequest
		return err
	}
	return nil
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) error {
	err := goerrors.NewValidationFromMap("invalid input", map[string]string{field: message})
	err.TextCode = TextCodeValidation
	err.Code = goerrors.CodeBadRequest
	return err
}
