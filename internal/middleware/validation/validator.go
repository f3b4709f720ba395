package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	LocalsChat     = "chat_request"
	LocalsFeedback = "feedback_request"
)

var (
	xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

	validate = newValidator()
)

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type ChatRequest struct {
	Text      string   `json:"text" validate:"required,max=1000"`
	Context   []string `json:"context" validate:"max=20,dive,max=2000"`
	SessionID string   `json:"session_id" validate:"omitempty,max=64"`
	Language  string   `json:"language" validate:"omitempty,oneof=zh-TW zh-tw zh en en-US"`
}

type FeedbackRequest struct {
	TurnID  string `json:"turn_id" validate:"required,uuid"`
	Helpful *bool  `json:"helpful" validate:"required"`
	Comment string `json:"comment" validate:"max=1000"`
}

type Config struct {
	Logger *zap.Logger
}

// Middleware rejects malformed JSON bodies and stores the decoded,
// validated request in Locals for the handler.
func Middleware(cfg Config) fiber.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.Contains(ct, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		switch {
		case strings.HasSuffix(c.Path(), "/chat"):
			var req ChatRequest
			if err := decode(c, &req); err != nil {
				return badRequest(c, err)
			}
			req.Text = sanitizeString(req.Text)
			if containsXSS(req.Text) {
				cfg.Logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()))
				return badRequest(c, errors.New("invalid question content"))
			}
			c.Locals(LocalsChat, req)

		case strings.HasSuffix(c.Path(), "/feedback"):
			var req FeedbackRequest
			if err := decode(c, &req); err != nil {
				return badRequest(c, err)
			}
			req.Comment = sanitizeString(req.Comment)
			c.Locals(LocalsFeedback, req)
		}

		return c.Next()
	}
}

// ValidateChat applies the ChatRequest rules to a request that did not
// come through the HTTP middleware, such as a WebSocket frame.
func ValidateChat(req *ChatRequest) error {
	req.Text = sanitizeString(req.Text)
	if err := validate.Struct(req); err != nil {
		return describe(err)
	}
	if containsXSS(req.Text) {
		return errors.New("invalid question content")
	}
	return nil
}

func decode(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return errors.New("invalid JSON format")
	}
	if err := validate.Struct(dst); err != nil {
		return describe(err)
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.New("invalid request")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "max":
		return fmt.Errorf("%s exceeds maximum length %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
