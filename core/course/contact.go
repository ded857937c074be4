package course

import (
	"github.com/go-playground/validator/v10"

	"github.com/simplemooc/simplemooc/core"
)

// ContactCourse is a visitor's question about a course, mailed to the
// configured contact address.
type ContactCourse struct {
	Name    string `json:"name"`
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"required"`
}

func (cc *ContactCourse) Validate(validate *validator.Validate) error {
	cc.Name = core.CleanString(cc.Name)
	cc.Email = core.CleanString(cc.Email, true /* lower */)
	cc.Message = core.CleanString(cc.Message)
	return validate.Struct(cc)
}
