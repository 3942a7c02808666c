package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportello/internal/platform/config"
	"sportello/internal/submission"
)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to []string, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

// byRecipient finds the message addressed to addr, failing the test when
// it was never sent.
func (m *fakeMailer) byRecipient(t *testing.T, addr string) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mail := range m.sent {
		for _, to := range mail.to {
			if to == addr {
				return mail
			}
		}
	}
	t.Fatalf("no mail sent to %s", addr)
	return sentMail{}
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:      "https://sportello.example.it/",
		AdminEmail:   "ufficio@example.it",
		SubjectAdmin: "Nuova Submission File Ricevuta",
		SubjectUser:  "Conferma Ricezione Richiesta",
	}
}

func testSubmission() *submission.Submission {
	return &submission.Submission{
		ID:                 42,
		Cognome:            "Rossi",
		Nome:               "Mario",
		DataNascita:        "1980-01-01",
		ComuneNascita:      "Roma",
		CodiceFiscale:      "RSSMRA80A01H501U",
		ComuneResidenza:    "Roma",
		IndirizzoResidenza: "Via Appia 1",
		Telefono:           "+393331234567",
		Email:              "mario.rossi@example.com",
		FileName:           "documenti.zip",
		FileSize:           2048,
		IPAddress:          "203.0.113.7",
		SubmittedAt:        time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmissionReceivedMailsAdminAndApplicant(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewNotifier(testConfig(), mailer, discardLogger())

	n.SubmissionReceived(context.Background(), testSubmission(), "tok123")

	require.Len(t, mailer.sent, 2)

	admin := mailer.byRecipient(t, "ufficio@example.it")
	assert.Equal(t, "Nuova Submission File Ricevuta", admin.subject)
	assert.Contains(t, admin.body, "ROSSI Mario")
	assert.Contains(t, admin.body, "RSSMRA80A01H501U")
	assert.Contains(t, admin.body, "https://sportello.example.it/api/v1/submissions/42/download?token=tok123")

	user := mailer.byRecipient(t, "mario.rossi@example.com")
	assert.Contains(t, user.body, "Gentile Mario Rossi")
	assert.Contains(t, user.body, "documenti.zip")
}

func TestSubmissionReceivedWithoutAdminAddress(t *testing.T) {
	cfg := testConfig()
	cfg.AdminEmail = ""
	mailer := &fakeMailer{}
	n := NewNotifier(cfg, mailer, discardLogger())

	n.SubmissionReceived(context.Background(), testSubmission(), "tok123")

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"mario.rossi@example.com"}, mailer.sent[0].to)
}

func TestSubmissionReceivedSwallowsMailerErrors(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("relay down")}
	n := NewNotifier(testConfig(), mailer, discardLogger())

	// Must not panic or propagate.
	n.SubmissionReceived(context.Background(), testSubmission(), "tok123")
	assert.Empty(t, mailer.sent)
}

func TestStorageAlert(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewNotifier(testConfig(), mailer, discardLogger())

	n.StorageAlert(context.Background(), 1<<30, 5<<20, 2<<30, config.QuotaTotalUsage)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"ufficio@example.it"}, mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "Spazio utilizzato: 1.0 GB")
	assert.Contains(t, mailer.sent[0].body, "5.0 MB")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 MB", formatBytes(1572864))
}
