package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"cvewatch/internal/model"
)

// SMTPConfig holds the outbound mail settings shared by all email notifications.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// EmailNotifier renders a report into a plain-text message and delivers it
// over SMTP. Delivery failures follow the same terminal-state contract as the
// webhook channel.
type EmailNotifier struct {
	SMTP SMTPConfig
	To   string

	// sendMail is swappable in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg SMTPConfig, extras model.EmailExtras) *EmailNotifier {
	return &EmailNotifier{
		SMTP:     cfg,
		To:       extras.To,
		sendMail: smtp.SendMail,
	}
}

// Send renders and delivers the report. Email has no upstream HTTP status, so
// the status code is always zero.
func (n *EmailNotifier) Send(ctx context.Context, report *model.Report) (int, error) {
	if n.SMTP.Host == "" {
		return 0, fmt.Errorf("smtp host is not configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var auth smtp.Auth
	if n.SMTP.Username != "" {
		auth = smtp.PlainAuth("", n.SMTP.Username, n.SMTP.Password, n.SMTP.Host)
	}

	msg := renderEmail(n.SMTP.From, n.To, report)
	addr := fmt.Sprintf("%s:%d", n.SMTP.Host, n.SMTP.Port)
	if err := n.sendMail(addr, auth, n.SMTP.From, []string{n.To}, msg); err != nil {
		return 0, fmt.Errorf("failed to send email notification: %w", err)
	}
	return 0, nil
}

func renderEmail(from, to string, report *model.Report) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: [%s/%s] %s\r\n", report.Organization, report.Project, report.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "%s\r\n", report.Title)
	fmt.Fprintf(&b, "Period: %s to %s\r\n\r\n",
		report.Period.Start.Format("2006-01-02 15:04 MST"),
		report.Period.End.Format("2006-01-02 15:04 MST"))

	for _, change := range report.Changes {
		score := "N/A"
		if change.CVE.CVSS31 != nil {
			score = fmt.Sprintf("%.1f", *change.CVE.CVSS31)
		}
		fmt.Fprintf(&b, "%s [CVSS %s]\r\n", change.CVE.CVEID, score)
		if change.CVE.Description != "" {
			fmt.Fprintf(&b, "  %s\r\n", change.CVE.Description)
		}
		var types []string
		for _, ev := range change.Events {
			types = append(types, string(ev.Type))
		}
		fmt.Fprintf(&b, "  Events: %s\r\n\r\n", strings.Join(types, ", "))
	}
	return []byte(b.String())
}
