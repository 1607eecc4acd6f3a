package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"questionnaire/internal/model"
)

var ErrInvalidInput = errors.New("invalid input")

const publishTimeout = 3 * time.Second

var fieldMessages = map[string]map[string]string{
	"name": {
		"required": "Please enter your name.",
		"max":      "Your name is too long.",
	},
	"response": {
		"required": "Please enter your answer.",
		"max":      "Your answer is too long.",
	},
	"consent": {
		"required": "You must consent to the processing of your answer.",
	},
}

type ResponseStore interface {
	Create(ctx context.Context, response *model.Response) error
}

type SubmissionPublisher interface {
	PublishSubmission(ctx context.Context, event model.SubmissionEvent) error
}

type SubmitInput struct {
	Name     string `validate:"required,max=10000"`
	Response string `validate:"required,max=100000"`
	Consent  bool   `validate:"required"`
}

// ValidationError maps form field names to user-facing messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("invalid submission: %s", strings.Join(names, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

type FormService struct {
	store     ResponseStore
	publisher SubmissionPublisher
	validate  *validator.Validate
}

// NewFormService builds the submission service. publisher may be nil.
func NewFormService(store ResponseStore, publisher SubmissionPublisher) *FormService {
	return &FormService{
		store:     store,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Submit validates the input and, when it is valid, inserts exactly one row.
// Invalid input returns a *ValidationError and writes nothing. Whitespace is
// ignored when checking the fields but the row stores the text as entered.
func (s *FormService) Submit(ctx context.Context, input SubmitInput) (*model.Response, error) {
	checked := input
	checked.Name = strings.TrimSpace(checked.Name)
	checked.Response = strings.TrimSpace(checked.Response)

	if err := s.validate.Struct(checked); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("validate submission failed: %w", err)
		}
		return nil, toValidationError(fieldErrs)
	}

	response := &model.Response{
		Name:     input.Name,
		Response: input.Response,
		Consent:  input.Consent,
	}
	if err := s.store.Create(ctx, response); err != nil {
		return nil, err
	}

	s.publish(ctx, response)
	return response, nil
}

func (s *FormService) publish(ctx context.Context, response *model.Response) {
	if s.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := model.SubmissionEvent{
		ResponseID:  response.ID,
		NameLength:  utf8.RuneCountInString(response.Name),
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishSubmission(pubCtx, event); err != nil {
		slog.WarnContext(ctx, "publish submission event failed",
			slog.Uint64("response_id", uint64(response.ID)),
			slog.String("error", err.Error()),
		)
	}
}

func toValidationError(fieldErrs validator.ValidationErrors) *ValidationError {
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		field := strings.ToLower(fe.StructField())
		msg, ok := fieldMessages[field][fe.Tag()]
		if !ok {
			msg = "This field is invalid."
		}
		out.Fields[field] = msg
	}
	return out
}
