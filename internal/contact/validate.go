package contact

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/resumemate/backend/internal/models"
)

var (
	validate *validator.Validate

	twMobile = regexp.MustCompile(`^09\d{8}$`)
)

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("twmobile", func(fl validator.FieldLevel) bool {
		return twMobile.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// Problem is one rejected field of a ContactInfo.
type Problem struct {
	Field string
	Tag   string
	Value string
	Param string
}

func (p Problem) String() string {
	switch p.Tag {
	case "channel":
		return "at least one contact channel (email, phone, LINE or Telegram) is required"
	case "email":
		return fmt.Sprintf("invalid email: %s", p.Value)
	case "twmobile":
		return fmt.Sprintf("invalid phone number: %s", p.Value)
	case "max":
		return fmt.Sprintf("%s is longer than %s characters", p.Field, p.Param)
	default:
		return fmt.Sprintf("%s failed %s", p.Field, p.Tag)
	}
}

// Validate reports whether c can be stored and, if not, why.
func Validate(c models.ContactInfo) (bool, []string) {
	problems := Check(c)
	msgs := make([]string, 0, len(problems))
	for _, p := range problems {
		msgs = append(msgs, p.String())
	}
	return len(problems) == 0, msgs
}

// Check is Validate with structured problems.
func Check(c models.ContactInfo) []Problem {
	if !c.HasChannel() {
		return []Problem{{Field: "channel", Tag: "channel"}}
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Problem{{Field: "contact", Tag: "invalid"}}
	}
	problems := make([]Problem, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, Problem{
			Field: fieldName(fe.Field()),
			Tag:   fe.Tag(),
			Value: fmt.Sprint(fe.Value()),
			Param: fe.Param(),
		})
	}
	return problems
}

func fieldName(structField string) string {
	switch structField {
	case "LineID":
		return "line_id"
	case "Telegram":
		return "telegram"
	case "Email":
		return "email"
	case "Phone":
		return "phone"
	default:
		return "name"
	}
}
