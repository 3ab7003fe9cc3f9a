package notifier

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"fleamarket-radar/models"
)

// Notifier delivers an already-rendered alert. Implementations report
// success or failure only; callers decide what a failure means.
type Notifier interface {
	Send(subject, htmlBody string) error
}

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	To       []string
}

// EmailNotifier sends alerts over SMTP.
type EmailNotifier struct {
	cfg    EmailConfig
	logger zerolog.Logger
}

func NewEmailNotifier(cfg EmailConfig, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: logger}
}

func (n *EmailNotifier) Send(subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.User)
	m.SetHeader("To", n.cfg.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(n.cfg.Host, n.cfg.Port, n.cfg.User, n.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("notifier: send mail: %w", err)
	}
	n.logger.Info().Str("subject", subject).Strs("to", n.cfg.To).Msg("alert mail sent")
	return nil
}

// BargainSubject builds the alert subject line for one candidate.
func BargainSubject(c *models.BargainCandidate) string {
	return fmt.Sprintf("【お買い得】%s - ¥%d (%d%%オフ)",
		c.Listing.Source.DisplayName(), c.Listing.Price, c.DiscountPercent)
}

// BargainHTML renders the alert body for one candidate.
func BargainHTML(c *models.BargainCandidate) string {
	var b strings.Builder
	b.WriteString("<h2>お買い得商品が見つかりました</h2>\n")
	b.WriteString(fmt.Sprintf("<p><strong>%s</strong></p>\n", html(c.Listing.Title)))
	b.WriteString("<ul>\n")
	b.WriteString(fmt.Sprintf("  <li>サイト: %s</li>\n", c.Listing.Source.DisplayName()))
	b.WriteString(fmt.Sprintf("  <li>カテゴリ: %s</li>\n", html(c.Listing.Category)))
	b.WriteString(fmt.Sprintf("  <li>価格: ¥%d</li>\n", c.Listing.Price))
	b.WriteString(fmt.Sprintf("  <li>相場: ¥%.0f (直近%d件)</li>\n", c.CohortStat, c.CohortSize))
	b.WriteString(fmt.Sprintf("  <li>割引率: %d%%</li>\n", c.DiscountPercent))
	b.WriteString("</ul>\n")
	if c.Listing.URL != "" {
		b.WriteString(fmt.Sprintf("<p><a href=\"%s\">商品ページを開く</a></p>\n", c.Listing.URL))
	}
	return b.String()
}

func html(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
