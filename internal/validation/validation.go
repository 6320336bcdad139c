package validation

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	pkgconstants "whatsrelay/pkg/constants"

	"github.com/go-playground/validator/v10"
)

var (
	waIDPattern    = regexp.MustCompile(`^[0-9]{5,20}$`)
	phoneIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// RespondRequest is the body of POST /api/respond
type RespondRequest struct {
	WaID    string `json:"wa_id" validate:"required,waid"`
	Message string `json:"message" validate:"required,max=4096"`
	PhoneID string `json:"phone_id" validate:"required,phoneid"`
	Name    string `json:"name" validate:"max=256"`
}

// MarkReadRequest is the body of POST /api/mark-read
type MarkReadRequest struct {
	WaID    string `json:"wa_id" validate:"required,waid"`
	PhoneID string `json:"phone_id" validate:"required,phoneid"`
}

// SendImageForm holds the text fields of the POST /api/send-image form
type SendImageForm struct {
	WaID    string `json:"wa_id" validate:"required,waid"`
	PhoneID string `json:"phone_id" validate:"required,phoneid"`
	Caption string `json:"caption" validate:"max=1024"`
	Name    string `json:"name" validate:"max=256"`
}

// ConversationQuery addresses one tenant and optionally one conversation
type ConversationQuery struct {
	PhoneID string `json:"phone_id" validate:"required,phoneid"`
	WaID    string `json:"wa_id" validate:"omitempty,waid"`
}

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator with the waid and phoneid rules
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("waid", func(fl validator.FieldLevel) bool {
			return waIDPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("phoneid", func(fl validator.FieldLevel) bool {
			return phoneIDPattern.MatchString(fl.Field().String())
		})
		instance = v
	})
	return instance
}

// Struct validates s and converts the first failure into a VALIDATION_FAILED
// AppError naming the JSON field.
func Struct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid request")
	}

	fe := fieldErrs[0]
	return errors.NewValidationError(fe.Field(), "", describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "waid":
		return "must be 5 to 20 digits"
	case "phoneid":
		return "must be 1 to 64 letters, digits, '_' or '-'"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// ValidateMessageID checks an id received from the provider
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}
	if len(messageID) > pkgconstants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", pkgconstants.MaxMessageIDLength))
	}
	if strings.ContainsAny(messageID, "\x00\n\r\t") {
		return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
	}
	return nil
}

// ValidateHTTPRequestSize rejects requests whose declared size exceeds maxSizeBytes
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// MaxUploadBytes converts the configured upload limit to bytes
func MaxUploadBytes(maxUploadMB int) int64 {
	if maxUploadMB <= 0 {
		maxUploadMB = constants.DefaultMaxUploadMB
	}
	return int64(maxUploadMB) * pkgconstants.BytesPerMegabyte
}
