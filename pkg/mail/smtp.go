package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

// SMTPConfig describes an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is "mandatory" (STARTTLS required), "opportunistic", "ssl" or "none".
	TLS     string
	Timeout time.Duration
}

// SMTP sends each message over a fresh connection.
type SMTP struct {
	cfg  SMTPConfig
	opts []gomail.Option
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	const op = "mail.smtp"
	if cfg.Host == "" || cfg.From == "" {
		return nil, fault.Errorf(fault.Config, op, "SMTP host and sender address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(cfg.Timeout),
	}
	switch strings.ToLower(cfg.TLS) {
	case "", "mandatory", "starttls":
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	case "opportunistic":
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	case "ssl":
		opts = append(opts, gomail.WithSSL())
	case "none":
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	default:
		return nil, fault.Errorf(fault.Config, op, "unknown TLS mode %q", cfg.TLS)
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthAutoDiscover),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	} else {
		opts = append(opts, gomail.WithSMTPAuth(gomail.SMTPAuthNoAuth))
	}

	// Validate the options once so misconfiguration fails at startup.
	if _, err := gomail.NewClient(cfg.Host, opts...); err != nil {
		return nil, fault.E(fault.Config, op, err)
	}
	return &SMTP{cfg: cfg, opts: opts}, nil
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	const op = "mail.smtp.send"
	m, err := Build(s.cfg.From, msg)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return fault.E(fault.Config, op, err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fault.E(classify(err), op, fmt.Errorf("send to %s: %w", msg.To, err))
	}
	return nil
}

func classify(err error) fault.Kind {
	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return fault.Transient
		}
		return fault.Invalid
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fault.Transient
	}
	if strings.Contains(err.Error(), "SMTP AUTH failed") {
		return fault.Auth
	}
	return fault.Transient
}
