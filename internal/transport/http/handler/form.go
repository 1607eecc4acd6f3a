package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	csrf "github.com/utrack/gin-csrf"

	"questionnaire/internal/app"
	"questionnaire/internal/transport/http/response"
)

const (
	formTitle            = "Questionnaire"
	flashCategorySuccess = "success"
	submittedMessage     = "Thank you for your participation!"
)

var flashCategories = []string{flashCategorySuccess}

type FormHandler struct {
	formService *app.FormService
}

type SubmitRequest struct {
	Name     string `form:"name"`
	Response string `form:"response"`
	Consent  string `form:"consent"`
}

type formValues struct {
	Name     string
	Response string
	Consent  bool
}

type flashMessage struct {
	Category string
	Message  string
}

type formPage struct {
	Title     string
	CSRFToken string
	Form      formValues
	Errors    map[string]string
	Flashes   []flashMessage
}

func NewFormHandler(formService *app.FormService) *FormHandler {
	return &FormHandler{formService: formService}
}

func (h *FormHandler) Show(c *gin.Context) {
	h.render(c, http.StatusOK, formValues{}, nil)
}

// Submit runs after the CSRF check. Invalid input re-renders the form with
// inline errors; a stored answer redirects back with a flash notice.
func (h *FormHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Page(c, http.StatusBadRequest, "Bad request", "The form could not be read.")
		return
	}

	values := formValues{
		Name:     req.Name,
		Response: req.Response,
		Consent:  checkboxChecked(req.Consent),
	}

	_, err := h.formService.Submit(c.Request.Context(), app.SubmitInput{
		Name:     values.Name,
		Response: values.Response,
		Consent:  values.Consent,
	})
	if err != nil {
		var verr *app.ValidationError
		if errors.As(err, &verr) {
			h.render(c, http.StatusOK, values, verr.Fields)
			return
		}
		_ = c.Error(err)
		slog.ErrorContext(c.Request.Context(), "store submission failed", slog.String("error", err.Error()))
		response.Page(c, http.StatusInternalServerError, "Something went wrong", "Your answer could not be saved. Please try again later.")
		return
	}

	session := sessions.Default(c)
	session.AddFlash(submittedMessage, flashCategorySuccess)
	if err := session.Save(); err != nil {
		slog.WarnContext(c.Request.Context(), "save flash failed", slog.String("error", err.Error()))
	}
	c.Redirect(http.StatusFound, "/")
}

func (h *FormHandler) render(c *gin.Context, status int, values formValues, fieldErrors map[string]string) {
	page := formPage{
		Title:     formTitle,
		CSRFToken: csrf.GetToken(c),
		Form:      values,
		Errors:    fieldErrors,
		Flashes:   popFlashes(c),
	}
	c.HTML(status, "form.html", page)
}

// CSRFRejected answers requests whose anti-forgery token is missing or wrong.
func CSRFRejected(c *gin.Context) {
	slog.WarnContext(c.Request.Context(), "csrf token rejected",
		slog.String("path", c.Request.URL.Path),
		slog.String("client_ip", c.ClientIP()),
	)
	response.Page(c, http.StatusForbidden, "Invalid form token", "The form has expired or did not come from this site. Please reload the page and try again.")
}

func popFlashes(c *gin.Context) []flashMessage {
	session := sessions.Default(c)

	var flashes []flashMessage
	for _, category := range flashCategories {
		for _, raw := range session.Flashes(category) {
			if msg, ok := raw.(string); ok {
				flashes = append(flashes, flashMessage{Category: category, Message: msg})
			}
		}
	}
	if len(flashes) > 0 {
		if err := session.Save(); err != nil {
			slog.WarnContext(c.Request.Context(), "clear flashes failed", slog.String("error", err.Error()))
		}
	}
	return flashes
}

// checkboxChecked follows HTML checkbox semantics: an absent field or an
// explicit false-like value means unchecked.
func checkboxChecked(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "false", "0", "off", "no", "n":
		return false
	default:
		return true
	}
}
