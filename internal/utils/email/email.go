package email

import (
	"fmt"
	"net/smtp"

	"github.com/banklink-dev/banklink/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendRelinkNotice tells a user their bank connection stopped working and
// needs to be linked again. Sent when the provider rejects the stored
// tokens; the sync engine never retries an unauthorized credential.
func (s *Sender) SendRelinkNotice(to, username, provider string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Action needed: reconnect your bank"

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"We could no longer access your accounts at %s — the bank rejected the stored connection.\n"+
			"Your data is unchanged, but transactions will not update until you reconnect.\n\n"+
			"Please sign in and use \"Connect\" on the affected bank to link it again.\n"+
			"\nBest regards,\nBanklink",
		username, provider,
	)
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}
