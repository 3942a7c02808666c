package submission

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"sportello/internal/archive"
	"sportello/internal/chunkstore"
	"sportello/internal/codicefiscale"
	"sportello/internal/emailcheck"
	"sportello/internal/platform/metrics"
	dErrors "sportello/pkg/domain-errors"
)

// Pipeline step labels for rejection metrics.
const (
	stepMeta       = "meta"
	stepBot        = "bot"
	stepIdentity   = "identity"
	stepEmail      = "email"
	stepUniqueness = "uniqueness"
	stepFile       = "file"
	stepPersist    = "persist"
)

// emailCheckTimeout bounds the DNS lookups behind the email step so a
// slow or unresponsive resolver cannot wedge the pipeline.
const emailCheckTimeout = 5 * time.Second

// ChunkSource reassembles and discards chunked upload sessions.
type ChunkSource interface {
	Reassemble(sessionID string) (*chunkstore.Artifact, error)
	Discard(sessionID string) error
}

// Archiver admits candidate files into permanent storage.
type Archiver interface {
	Admit(ctx context.Context, candidatePath, originalName, identifier string) (*archive.StoredFile, error)
	Delete(path string) error
}

// EmailChecker validates deliverability and screens throwaway domains.
type EmailChecker interface {
	Validate(ctx context.Context, email string) (bool, emailcheck.Reason)
	IsDisposable(email string) bool
}

// BotVerifier checks an anti-bot challenge token. A nil verifier on the
// service disables the step entirely.
type BotVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// TokenIssuer mints download capability tokens for notification links.
type TokenIssuer interface {
	Issue(submissionID int64, now time.Time) (string, error)
}

// Notifier announces accepted submissions. Delivery is best-effort.
type Notifier interface {
	SubmissionReceived(ctx context.Context, sub *Submission, downloadToken string)
}

// SubmitRequest is a parsed and decoded intake form. The handler fills
// it from the multipart request; the service owns all validation.
type SubmitRequest struct {
	Cognome            string `validate:"required"`
	Nome               string `validate:"required"`
	DataNascita        string `validate:"required,datetime=2006-01-02"`
	ComuneNascita      string `validate:"required"`
	CodiceFiscale      string `validate:"required"`
	ComuneResidenza    string `validate:"required"`
	IndirizzoResidenza string `validate:"required"`
	Telefono           string
	Email              string `validate:"required"`
	Terms              string `validate:"required,eq=on"`
	BotToken           string

	// Exactly one upload form: a completed chunk session, or a direct
	// file already spooled to scratch by the handler.
	UploadSessionID string
	FilePath        string
	FileName        string

	IPAddress string
	UserAgent string
}

// Service runs the intake pipeline: validate, admit the archive, persist,
// notify. Each request either ends fully persisted with its file in
// permanent storage, or leaves nothing behind.
type Service struct {
	store    Store
	chunks   ChunkSource
	archive  Archiver
	emails   EmailChecker
	bots     BotVerifier
	tokens   TokenIssuer
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	validate *validator.Validate
	clock    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBotVerifier enables the anti-bot step.
func WithBotVerifier(v BotVerifier) ServiceOption {
	return func(s *Service) { s.bots = v }
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewService(
	store Store,
	chunks ChunkSource,
	arch Archiver,
	emails EmailChecker,
	tokens TokenIssuer,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		store:    store,
		chunks:   chunks,
		archive:  arch,
		emails:   emails,
		tokens:   tokens,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		validate: validator.New(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit runs a request through the full pipeline and returns the
// persisted submission. On rejection any chunk session named by the
// request is discarded rather than left for the sweep.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*Submission, error) {
	sub, err := s.submit(ctx, req)
	if err != nil && req.UploadSessionID != "" {
		if derr := s.chunks.Discard(req.UploadSessionID); derr != nil {
			s.logger.Warn("could not discard upload session",
				slog.String("session_id", req.UploadSessionID), slog.Any("error", derr))
		}
	}
	return sub, err
}

func (s *Service) submit(ctx context.Context, req *SubmitRequest) (*Submission, error) {
	if err := s.validateMeta(req); err != nil {
		return nil, s.rejected(stepMeta, err)
	}

	if s.bots != nil {
		if err := s.bots.Verify(ctx, req.BotToken, req.IPAddress); err != nil {
			return nil, s.rejected(stepBot, err)
		}
	}

	cf := codicefiscale.Normalize(req.CodiceFiscale)
	if ok, reason := codicefiscale.Validate(cf); !ok {
		return nil, s.rejected(stepIdentity, dErrors.New(dErrors.CodeBadRequest, reason.Message()))
	}

	email := strings.TrimSpace(req.Email)
	emailCtx, cancel := context.WithTimeout(ctx, emailCheckTimeout)
	ok, reason := s.emails.Validate(emailCtx, email)
	cancel()
	if !ok {
		return nil, s.rejected(stepEmail, dErrors.New(dErrors.CodeBadRequest, reason.Message()))
	}
	if s.emails.IsDisposable(email) {
		return nil, s.rejected(stepEmail, dErrors.New(dErrors.CodeBadRequest,
			"Non sono ammessi indirizzi email temporanei o usa e getta."))
	}

	// Advisory check for a friendly error; the store's unique constraint
	// still decides races.
	exists, err := s.store.ExistsCodiceFiscale(ctx, cf)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not check for an existing submission")
	}
	if exists {
		return nil, s.rejected(stepUniqueness, dErrors.New(dErrors.CodeConflict,
			"Esiste già una richiesta per questo codice fiscale."))
	}

	stored, err := s.admitUpload(ctx, req, cf)
	if err != nil {
		var re *archive.RejectionError
		if errors.As(err, &re) {
			s.metrics.AdmissionRejected.WithLabelValues(string(re.Reason)).Inc()
		}
		return nil, s.rejected(stepFile, err)
	}

	now := s.clock()
	sub := &Submission{
		Cognome:            strings.TrimSpace(req.Cognome),
		Nome:               strings.TrimSpace(req.Nome),
		DataNascita:        req.DataNascita,
		ComuneNascita:      strings.TrimSpace(req.ComuneNascita),
		CodiceFiscale:      cf,
		ComuneResidenza:    strings.TrimSpace(req.ComuneResidenza),
		IndirizzoResidenza: strings.TrimSpace(req.IndirizzoResidenza),
		Telefono:           NormalizePhone(req.Telefono),
		Email:              email,
		FileName:           stored.Name,
		FilePath:           stored.Path,
		FileSize:           stored.Size,
		IPAddress:          req.IPAddress,
		UserAgent:          req.UserAgent,
		SubmittedAt:        now,
		Status:             StatusPending,
	}

	id, err := s.store.Insert(ctx, sub)
	if err != nil {
		// The record never landed, so the stored archive must not
		// survive either.
		if delErr := s.archive.Delete(stored.Path); delErr != nil {
			s.logger.Error("orphaned archive could not be removed",
				slog.String("path", stored.Path), slog.Any("error", delErr))
		}
		return nil, s.rejected(stepPersist, err)
	}
	sub.ID = id

	s.metrics.SubmissionsAccepted.Inc()
	s.metrics.BytesStored.Add(float64(stored.Size))
	s.logger.Info("submission accepted",
		slog.Int64("id", id),
		slog.String("codice_fiscale", cf),
		slog.Int64("file_size", stored.Size),
	)

	var token string
	if s.tokens != nil {
		token, err = s.tokens.Issue(id, now)
		if err != nil {
			s.logger.Error("download token issue failed", slog.Int64("id", id), slog.Any("error", err))
			token = ""
		}
	}
	s.notifier.SubmissionReceived(ctx, sub, token)

	return sub, nil
}

func (s *Service) validateMeta(req *SubmitRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch {
				case fe.Field() == "Terms":
					return dErrors.New(dErrors.CodeBadRequest,
						"È necessario accettare i termini e le condizioni per procedere.")
				case fe.Field() == "DataNascita" && fe.Tag() == "datetime":
					return dErrors.New(dErrors.CodeBadRequest, "La data di nascita non è valida.")
				}
			}
		}
		return dErrors.New(dErrors.CodeBadRequest, "Tutti i campi obbligatori devono essere compilati.")
	}
	return nil
}

// admitUpload reassembles or picks up the candidate file and hands it to
// the archive controller. The scratch copy never outlives the call:
// admission moves it, rejection leaves it for the deferred remove.
func (s *Service) admitUpload(ctx context.Context, req *SubmitRequest, cf string) (*archive.StoredFile, error) {
	if req.UploadSessionID != "" {
		art, err := s.chunks.Reassemble(req.UploadSessionID)
		if err != nil {
			return nil, err
		}
		defer os.Remove(art.Path)
		return s.archive.Admit(ctx, art.Path, art.OriginalName, cf)
	}

	if req.FilePath == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "È necessario allegare un file ZIP.")
	}
	defer os.Remove(req.FilePath)
	return s.archive.Admit(ctx, req.FilePath, req.FileName, cf)
}

func (s *Service) rejected(step string, err error) error {
	s.metrics.SubmissionsRejected.WithLabelValues(step).Inc()
	s.logger.Info("submission rejected",
		slog.String("step", step),
		slog.String("reason", dErrors.MessageOf(err)),
	)
	return err
}
