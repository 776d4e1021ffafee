package google

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/planhub/pkg/auth"
	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/mail"
)

// Gmail sends mail through the Gmail API as the authorized user.
type Gmail struct {
	srv  *gmail.Service
	from string
}

// NewGmail uses the OAuth token stored in dir.
func NewGmail(ctx context.Context, dir, from string) (*Gmail, error) {
	client, err := auth.GetClient(ctx, dir, auth.GoogleScopes)
	if err != nil {
		return nil, err
	}
	return NewGmailWithOptions(ctx, from, option.WithHTTPClient(client))
}

func NewGmailWithOptions(ctx context.Context, from string, opts ...option.ClientOption) (*Gmail, error) {
	if from == "" {
		return nil, fault.Errorf(fault.Config, "google.gmail", "sender address is not set")
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fault.E(fault.Config, "google.gmail", fmt.Errorf("unable to create Gmail client: %w", err))
	}
	return &Gmail{srv: srv, from: from}, nil
}

func (g *Gmail) Send(ctx context.Context, msg mail.Message) error {
	raw, err := mail.Raw(g.from, msg)
	if err != nil {
		return err
	}
	_, err = g.srv.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	return wrap("google.gmail.send", err)
}
