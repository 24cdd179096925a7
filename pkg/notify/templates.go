package notify

import (
	"bytes"
	"embed"
	"text/template"

	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var eventTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

var eventTemplateNames = map[EventKind]string{
	NewShiftsEvent:            "new_shifts.tmpl",
	UpdatedShiftsEvent:        "updated_shifts.tmpl",
	RemovedShiftsEvent:        "removed_shifts.tmpl",
	WelcomeEvent:              "welcome.tmpl",
	DeletionWarningEvent:      "deletion_warning.tmpl",
	AccountDeletedEvent:       "account_deleted.tmpl",
	SignInFailedEvent:         "signin_failed.tmpl",
	SignInRecoveredEvent:      "signin_recovered.tmpl",
	IncorrectNewPasswordEvent: "incorrect_new_password.tmpl",
	OperatorErrorsEvent:       "operator_errors.tmpl",
}

var eventSubjects = map[EventKind]string{
	NewShiftsEvent:            "New shifts on your roster",
	UpdatedShiftsEvent:        "Shifts on your roster changed",
	RemovedShiftsEvent:        "Shifts were removed from your roster",
	WelcomeEvent:              "Welcome to Shiftwatch",
	DeletionWarningEvent:      "Your Shiftwatch account will be deleted soon",
	AccountDeletedEvent:       "Your Shiftwatch account was deleted",
	SignInFailedEvent:         "Shiftwatch cannot sign in to the portal",
	SignInRecoveredEvent:      "Shiftwatch can sign in again",
	IncorrectNewPasswordEvent: "Your new portal password does not work",
	OperatorErrorsEvent:       "Shiftwatch operator error digest",
}

type templateData struct {
	Name             string
	Shifts           []scraper.Shift
	FailureCount     int
	FirstTime        bool
	Reason           string
	Errors           []string
	SignupURL        string
	PasswordResetURL string
	SupportEmail     string
}

func renderEvent(recipient *Recipient, event Event) (subject, textBody, htmlBody string, err error) {
	name, ok := eventTemplateNames[event.Kind]
	if !ok {
		return "", "", "", errUnknownEvent
	}

	data := &templateData{
		Name:             recipient.salutationName(),
		Shifts:           event.Shifts,
		FailureCount:     event.FailureCount,
		FirstTime:        event.FirstTime,
		Reason:           event.Reason.String(),
		Errors:           event.Errors,
		SignupURL:        recipient.Properties.SignupURL,
		PasswordResetURL: recipient.Properties.PasswordResetURL,
		SupportEmail:     recipient.Properties.SupportEmail,
	}

	var buf bytes.Buffer
	if err := eventTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", "", "", err
	}

	return eventSubjects[event.Kind], buf.String(), "", nil
}
