// Package mail delivers reminder messages.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
)

// Message is a plain-text mail to a single recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message. Any error means the message was not sent.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SubjectPrefix starts every reminder subject.
const SubjectPrefix = "⏰ PlanHub Reminder: "

// Reminder builds the reminder mail for task. The reminder time is shown
// in loc. fallback is used when the task has no owner address.
func Reminder(task model.Task, loc *time.Location, fallback string) (Message, error) {
	to := strings.TrimSpace(task.Email)
	if to == "" {
		to = strings.TrimSpace(fallback)
	}
	if to == "" {
		return Message{}, fault.Errorf(fault.Invalid, "mail.reminder", "task %s has no recipient", task.ID)
	}

	name := task.Description
	if name == "" {
		name = "Task"
	}
	when := "unscheduled"
	if task.HasReminder() {
		if loc == nil {
			loc = time.UTC
		}
		when = task.ReminderAt.In(loc).Format("Mon, 02 Jan 2006 15:04 MST")
	}

	return Message{
		To:      to,
		Subject: SubjectPrefix + name,
		Body:    fmt.Sprintf("Hey there,\n\nThis is a reminder for your task:\nTask: %s\nTime: %s\n", name, when),
	}, nil
}

// Build renders msg as a MIME message from the given sender address.
func Build(from string, msg Message) (*gomail.Msg, error) {
	const op = "mail.build"
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fault.E(fault.Config, op, fmt.Errorf("invalid sender %q: %w", from, err))
	}
	if err := m.To(msg.To); err != nil {
		return nil, fault.E(fault.Invalid, op, fmt.Errorf("invalid recipient %q: %w", msg.To, err))
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return m, nil
}

// Raw renders msg as RFC 5322 bytes.
func Raw(from string, msg Message) ([]byte, error) {
	m, err := Build(from, msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fault.E(fault.Internal, "mail.raw", err)
	}
	return buf.Bytes(), nil
}

// LogSender writes messages to a logger instead of delivering them.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("mail not delivered (log transport)", "to", msg.To, "subject", msg.Subject)
	return nil
}
