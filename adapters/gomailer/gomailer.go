// Package gomailer adapts gopkg.in/gomail.v2 to the membership.Mailer
// contract for transactional mail like password reset links.
package gomailer

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-membership"
	gomail "gopkg.in/gomail.v2"
)

type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

var _ membership.Mailer = (*Mailer)(nil)

func New(host string, port int, username, password, from string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send delivers a single HTML message. SMTP dialing has no context support,
// so the dial runs in a goroutine and the context can abandon the wait.
func (m *Mailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryOperation, "mail delivery cancelled").
			WithTextCode(membership.TextCodeMailProvider)
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, errors.CategoryOperation, "mail delivery failed").
				WithTextCode(membership.TextCodeMailProvider)
		}
	}

	return nil
}
