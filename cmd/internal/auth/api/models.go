package authapi

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type preRegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Newsletter bool   `json:"newsletter"`
}

func (r preRegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type registerRequest struct {
	UUID string `json:"uuid"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UUID, validation.Required),
	)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type resetRequest struct {
	Email string `json:"email"`
}

func (r resetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// resetConfirmRequest carries the emailed reset code in "uuid".
type resetConfirmRequest struct {
	UUID     string `json:"uuid"`
	Password string `json:"password"`
}

func (r resetConfirmRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UUID, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type documentIDRequest struct {
	UUID string `json:"uuid"`
}

func (r documentIDRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UUID, validation.Required, validation.Length(1, 256)),
	)
}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}
