// collector/notify/mailer.go
package notify

import (
	"fmt"
	"io"
	"log"

	gomail "gopkg.in/gomail.v2"
)

// Attachment is a named file carried with a notification.
type Attachment struct {
	Filename string
	Data     []byte
}

// Notifier delivers a site summary to its registered address. The reporting
// job depends only on this capability; the transport behind it is a
// collaborator.
type Notifier interface {
	Notify(address, subject, body string, attachments []Attachment) error
}

// SMTPNotifier sends notifications as email over SMTP.
type SMTPNotifier struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPNotifier(host string, port int, username, password, from string) *SMTPNotifier {
	return &SMTPNotifier{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (n *SMTPNotifier) Notify(address, subject, body string, attachments []Attachment) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", address)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	for _, a := range attachments {
		data := a.Data
		m.Attach(a.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", address, err)
	}

	log.Printf("Summary email sent to %s (%d attachment(s)).", address, len(attachments))
	return nil
}

// LogNotifier stands in when no SMTP transport is configured; it logs the
// summary instead of delivering it.
type LogNotifier struct{}

func (LogNotifier) Notify(address, subject, body string, attachments []Attachment) error {
	log.Printf("SMTP not configured; would have sent %q to %s (%d attachment(s)):\n%s",
		subject, address, len(attachments), body)
	return nil
}
