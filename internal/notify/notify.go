// Package notify delivers operator and applicant mail. Delivery is
// best-effort: a submission that reached the notification stage is
// already persisted, so failures here are logged, never surfaced to the
// citizen.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"golang.org/x/sync/errgroup"

	"sportello/internal/platform/config"
	"sportello/internal/submission"
)

// Mailer sends a single plain-text message.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer delivers through a relay at addr ("host:port").
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

func NewSMTPMailer(cfg *config.Config) *SMTPMailer {
	m := &SMTPMailer{addr: cfg.SMTPAddr, from: cfg.SMTPFrom}
	if cfg.SMTPUser != "" {
		host := cfg.SMTPAddr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		m.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, host)
	}
	return m
}

func (m *SMTPMailer) Send(_ context.Context, to []string, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(m.addr, m.auth, m.from, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail via %s: %w", m.addr, err)
	}
	return nil
}

// LogMailer writes mail to the log instead of a relay. Used when no
// SMTP address is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, to []string, subject, body string) error {
	m.logger.Info("mail delivery skipped, no smtp relay configured",
		slog.String("to", strings.Join(to, ", ")),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(body)),
	)
	return nil
}

// Notifier fans submission and storage events out as mail.
type Notifier struct {
	mailer       Mailer
	logger       *slog.Logger
	adminEmail   string
	subjectAdmin string
	subjectUser  string
	baseURL      string
}

func NewNotifier(cfg *config.Config, mailer Mailer, logger *slog.Logger) *Notifier {
	return &Notifier{
		mailer:       mailer,
		logger:       logger,
		adminEmail:   cfg.AdminEmail,
		subjectAdmin: cfg.SubjectAdmin,
		subjectUser:  cfg.SubjectUser,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// SubmissionReceived mails the operator a full summary with a download
// link, and the applicant a receipt confirmation. The two messages go
// out concurrently; each failure is logged on its own.
func (n *Notifier) SubmissionReceived(ctx context.Context, sub *submission.Submission, downloadToken string) {
	g, ctx := errgroup.WithContext(ctx)
	if n.adminEmail != "" {
		g.Go(func() error {
			body := n.adminBody(sub, downloadToken)
			if err := n.mailer.Send(ctx, []string{n.adminEmail}, n.subjectAdmin, body); err != nil {
				n.logger.Error("admin notification failed",
					slog.Int64("submission_id", sub.ID), slog.Any("error", err))
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := n.mailer.Send(ctx, []string{sub.Email}, n.subjectUser, userBody(sub)); err != nil {
			n.logger.Error("applicant confirmation failed",
				slog.Int64("submission_id", sub.ID), slog.Any("error", err))
		}
		return nil
	})
	_ = g.Wait()
}

// StorageAlert warns the operator that an upload was refused for lack of
// archive capacity.
func (n *Notifier) StorageAlert(ctx context.Context, usage, attempted, limit int64, mode config.QuotaMode) {
	if n.adminEmail == "" {
		return
	}
	var body strings.Builder
	body.WriteString("Attenzione: una richiesta è stata rifiutata per mancanza di spazio di archiviazione.\n\n")
	switch mode {
	case config.QuotaTotalUsage:
		fmt.Fprintf(&body, "Spazio utilizzato: %s\nLimite totale archivio: %s\n", formatBytes(usage), formatBytes(limit))
	default:
		fmt.Fprintf(&body, "Spazio libero sul disco: %s\nSoglia minima richiesta: %s\n", formatBytes(usage), formatBytes(limit))
	}
	fmt.Fprintf(&body, "Dimensione file rifiutato: %s\n\n", formatBytes(attempted))
	body.WriteString("Liberare spazio o aumentare i limiti configurati per riprendere la ricezione delle pratiche.\n")

	if err := n.mailer.Send(ctx, []string{n.adminEmail}, "Avviso: spazio di archiviazione esaurito", body.String()); err != nil {
		n.logger.Error("storage alert failed", slog.Any("error", err))
	}
}

func (n *Notifier) adminBody(sub *submission.Submission, downloadToken string) string {
	var b strings.Builder
	b.WriteString("È stata ricevuta una nuova pratica.\n\n")
	fmt.Fprintf(&b, "Richiedente: %s\n", sub.FullName())
	fmt.Fprintf(&b, "Data di nascita: %s (%s)\n", sub.DataNascita, sub.ComuneNascita)
	fmt.Fprintf(&b, "Codice fiscale: %s\n", sub.CodiceFiscale)
	fmt.Fprintf(&b, "Residenza: %s, %s\n", sub.IndirizzoResidenza, sub.ComuneResidenza)
	if sub.Telefono != "" {
		fmt.Fprintf(&b, "Telefono: %s\n", sub.Telefono)
	}
	fmt.Fprintf(&b, "Email: %s\n\n", sub.Email)
	fmt.Fprintf(&b, "File: %s (%s)\n", sub.FileName, formatBytes(sub.FileSize))
	fmt.Fprintf(&b, "Ricevuta il: %s\n", sub.SubmittedAt.Format("02/01/2006 15:04"))
	fmt.Fprintf(&b, "Indirizzo IP: %s\n\n", sub.IPAddress)
	if downloadToken != "" {
		fmt.Fprintf(&b, "Scarica l'archivio:\n%s/api/v1/submissions/%d/download?token=%s\n",
			n.baseURL, sub.ID, downloadToken)
	}
	return b.String()
}

func userBody(sub *submission.Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gentile %s %s,\n\n", sub.Nome, sub.Cognome)
	b.WriteString("la sua richiesta è stata ricevuta correttamente e verrà esaminata dai nostri uffici.\n\n")
	fmt.Fprintf(&b, "Riepilogo:\n")
	fmt.Fprintf(&b, "  Codice fiscale: %s\n", sub.CodiceFiscale)
	fmt.Fprintf(&b, "  File ricevuto: %s\n", sub.FileName)
	fmt.Fprintf(&b, "  Data di ricezione: %s\n\n", sub.SubmittedAt.Format("02/01/2006 15:04"))
	b.WriteString("Questa è una comunicazione automatica, si prega di non rispondere.\n")
	return b.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
