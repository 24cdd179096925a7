package db

import "time"

// User is the decrypted view of a users row joined with its settings.
type User struct {
	ID                        int32
	UserName                  string
	EmployeeNumber            string
	Password                  Secret
	DisplayName               Secret
	Email                     Secret
	FileName                  string
	CustomGeneralPropertiesID *int32
	CreationDate              time.Time
	LastExecutionDate         *time.Time
	LastSuccessfulSignInDate  *time.Time
	LastSystemExecutionDate   *time.Time
	Settings                  UserSettings
}

// CalendarFileName is the stem of the published .ics file.
func (u *User) CalendarFileName() string {
	if len(u.FileName) > 0 {
		return u.FileName
	}

	return u.UserName
}

type UserSettings struct {
	ExecutionIntervalMinutes int
	ExecutionMinute          int
	AutoDeleteAccount        bool
	MailNewShifts            bool
	MailUpdatedShifts        bool
	MailRemovedShifts        bool
}

// GeneralProperties are the process-wide defaults, optionally overridden
// per-user via users.custom_general_properties_id.
type GeneralProperties struct {
	ID                           int32
	FileTarget                   string
	ICalDomain                   string
	SignupURL                    string
	PasswordResetURL             string
	SupportEmail                 string
	ExpectedExecutionTimeSeconds int
	ExecutionRetryCount          int
	SigninFailExecutionReduce    int
	SigninFailMailReduce         int
	Kuma                         KumaProperties
	Email                        EmailProperties
}

type KumaProperties struct {
	ID        int32
	ServerURL string
	Username  string
	Password  Secret
	GroupName string
}

type EmailProperties struct {
	ID           int32
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword Secret
	FromAddress  string
}

// TimestampUpdate is a partial update of the users row timestamps. Nil
// fields are left untouched.
type TimestampUpdate struct {
	LastExecution        *time.Time
	LastSuccessfulSignIn *time.Time
	LastSystemExecution  *time.Time
}

func (tu *TimestampUpdate) Empty() bool {
	return tu.LastExecution == nil && tu.LastSuccessfulSignIn == nil && tu.LastSystemExecution == nil
}
