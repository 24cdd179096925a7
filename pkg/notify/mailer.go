package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/badoux/checkmail"
	"github.com/go-gomail/gomail"
	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/db"
)

var (
	errInvalidMessage = errors.New("mail message is not valid")
	errInvalidEmail   = errors.New("recipient address is not valid")
	errUnknownEvent   = errors.New("unknown event kind")
)

type Message struct {
	HTMLBody  string
	TextBody  string
	Subject   string
	EmailTo   string
	NameTo    string
	EmailFrom string
	NameFrom  string
	ReplyTo   string
}

func (m *Message) Valid() bool {
	return (m != nil) &&
		len(m.EmailTo) > 0 &&
		len(m.EmailFrom) > 0 &&
		(len(m.HTMLBody) > 0 || len(m.TextBody) > 0)
}

type Sender interface {
	SendEmail(ctx context.Context, smtp *db.EmailProperties, msg *Message) error
}

type smtpSender struct {
}

var _ Sender = (*smtpSender)(nil)

func NewSMTPSender() *smtpSender {
	return &smtpSender{}
}

func (ss *smtpSender) SendEmail(ctx context.Context, smtp *db.EmailProperties, msg *Message) error {
	if !msg.Valid() {
		return errInvalidMessage
	}

	m := gomail.NewMessage()

	m.SetAddressHeader("To", msg.EmailTo, msg.NameTo)
	m.SetAddressHeader("From", msg.EmailFrom, msg.NameFrom)
	m.SetHeader("Subject", msg.Subject)
	if len(msg.ReplyTo) > 0 {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}

	if len(msg.TextBody) > 0 {
		m.SetBody("text/plain", msg.TextBody)
	}
	if len(msg.HTMLBody) > 0 {
		m.AddAlternative("text/html", msg.HTMLBody)
	}

	port := smtp.SMTPPort
	if port == 0 {
		port = 587
	}

	dialer := gomail.NewDialer(smtp.SMTPHost, port, smtp.SMTPUsername, smtp.SMTPPassword.Expose())
	if port == 465 {
		dialer.SSL = true
	}

	if err := dialer.DialAndSend(m); err != nil {
		slog.ErrorContext(ctx, "Failed to send an email",
			"email", common.MaskEmail(msg.EmailTo, 'x'), "host", dialer.Host, "port", dialer.Port,
			common.ErrAttr(err))
		return err
	}

	return nil
}

// Recipient carries everything the notifier needs about the target user.
// Passed explicitly; the notifier holds no per-user state.
type Recipient struct {
	UserName    string
	DisplayName string
	Email       string
	Properties  *db.GeneralProperties
}

func (r *Recipient) salutationName() string {
	if len(r.DisplayName) > 0 {
		return r.DisplayName
	}

	return r.UserName
}

// Notifier renders and sends one typed email per event. Best effort: the
// core never acts on a send failure beyond logging it.
type Notifier interface {
	Send(ctx context.Context, recipient *Recipient, event Event) error
}

type mailNotifier struct {
	sender Sender
}

var _ Notifier = (*mailNotifier)(nil)

func NewMailNotifier(sender Sender) *mailNotifier {
	return &mailNotifier{sender: sender}
}

func (mn *mailNotifier) Send(ctx context.Context, recipient *Recipient, event Event) error {
	if err := checkmail.ValidateFormat(recipient.Email); err != nil {
		slog.WarnContext(ctx, "Dropping notification for invalid address",
			"email", common.MaskEmail(recipient.Email, 'x'), "event", event.Kind.String(), common.ErrAttr(err))
		return errInvalidEmail
	}

	subject, textBody, htmlBody, err := renderEvent(recipient, event)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to render notification", "event", event.Kind.String(), common.ErrAttr(err))
		return err
	}

	msg := &Message{
		Subject:   subject,
		TextBody:  textBody,
		HTMLBody:  htmlBody,
		EmailTo:   recipient.Email,
		NameTo:    recipient.salutationName(),
		EmailFrom: recipient.Properties.Email.FromAddress,
		NameFrom:  common.Shiftwatch,
		ReplyTo:   recipient.Properties.SupportEmail,
	}

	if err := mn.sender.SendEmail(ctx, &recipient.Properties.Email, msg); err != nil {
		return err
	}

	slog.DebugContext(ctx, "Sent notification", "event", event.Kind.String(),
		"email", common.MaskEmail(recipient.Email, 'x'))

	return nil
}
