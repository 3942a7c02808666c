package submission

import (
	"strings"
	"time"
)

// Status tracks a submission through its review lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInReview Status = "in_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Submission is an accepted citizen request: the declared identity, the
// stored archive it references, and review state.
type Submission struct {
	ID                 int64  `json:"id"`
	Cognome            string `json:"cognome"`
	Nome               string `json:"nome"`
	DataNascita        string `json:"data_nascita"`
	ComuneNascita      string `json:"comune_nascita"`
	CodiceFiscale      string `json:"codice_fiscale"`
	ComuneResidenza    string `json:"comune_residenza"`
	IndirizzoResidenza string `json:"indirizzo_residenza"`
	Telefono           string `json:"telefono"`
	Email              string `json:"email"`

	FileName string `json:"file_name"`
	FilePath string `json:"-"`
	FileSize int64  `json:"file_size"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	SubmittedAt time.Time `json:"submitted_at"`
	Status      Status    `json:"status"`
	Notes       string    `json:"notes"`
}

// FullName renders the applicant as "COGNOME Nome" for notification mail
// and admin listings.
func (s Submission) FullName() string {
	return strings.TrimSpace(strings.ToUpper(s.Cognome) + " " + s.Nome)
}

// NormalizePhone strips everything but digits and plus signs.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
