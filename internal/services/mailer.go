package services

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/platform/sendgrid"
)

type Mailer interface {
	SendActivation(ctx context.Context, u *types.User, token string) error
}

type mailer struct {
	log         *logger.Logger
	client      sendgrid.Client
	frontendURL string
	linkTTL     time.Duration
}

var activationTemplate = template.Must(template.New("activation").Parse(`<p>Hello {{.Name}},</p>
<p>Thanks for signing up for Kanda. Confirm your e-mail address to activate your account:</p>
<p><a href="{{.Link}}">Activate my account</a></p>
<p>The link expires in {{.Days}} days. If you did not create an account you can ignore this message.</p>
`))

// NewMailer sends through SendGrid. With a nil client the activation link is
// only logged, which is what local setups without an API key get.
func NewMailer(log *logger.Logger, client sendgrid.Client, frontendURL string, linkTTL time.Duration) Mailer {
	return &mailer{
		log:         log.With("service", "Mailer"),
		client:      client,
		frontendURL: strings.TrimRight(strings.TrimSpace(frontendURL), "/"),
		linkTTL:     linkTTL,
	}
}

func (m *mailer) activationLink(token string) string {
	return fmt.Sprintf("%s/activate/%s", m.frontendURL, token)
}

func (m *mailer) SendActivation(ctx context.Context, u *types.User, token string) error {
	if u == nil {
		return fmt.Errorf("missing user")
	}
	link := m.activationLink(token)
	if m.client == nil {
		m.log.Info("activation mail not sent, no mail client configured", "user_id", u.ID.String(), "link", link)
		return nil
	}

	name := strings.TrimSpace(u.FirstName)
	if name == "" {
		name = u.Username
	}
	var body strings.Builder
	if err := activationTemplate.Execute(&body, map[string]any{
		"Name": name,
		"Link": link,
		"Days": linkDays(m.linkTTL),
	}); err != nil {
		return fmt.Errorf("render activation mail: %w", err)
	}

	_, err := m.client.Send(ctx, sendgrid.SendEmailRequest{
		To:         []sendgrid.EmailAddress{{Email: u.Email, Name: name}},
		Subject:    "Activate your Kanda account",
		HTML:       body.String(),
		Text:       "Activate your Kanda account: " + link,
		Categories: []string{"activation"},
	})
	if err != nil {
		return fmt.Errorf("send activation mail: %w", err)
	}
	return nil
}

func linkDays(ttl time.Duration) int {
	days := int(ttl.Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}
