package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"questionnaire/internal/cache"
	"questionnaire/internal/model"
	"questionnaire/internal/pkg/jwtutil"
	"questionnaire/internal/repository"
)

const AdminRole = "admin"

var (
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrResponseNotFound  = errors.New("response not found")
)

type SubmissionCounter interface {
	Counts(ctx context.Context, now time.Time) (cache.SubmissionCounts, error)
}

type AdminService struct {
	responseRepo  *repository.ResponseRepository
	counter       SubmissionCounter
	username      string
	passwordHash  string
	jwtSecret     string
	jwtExpiration time.Duration
}

type AdminLoginInput struct {
	Username string
	Password string
}

type AdminLoginResult struct {
	Token     string
	ExpiresIn time.Duration
}

type ResponseStats struct {
	Stored int64                   `json:"stored"`
	Events *cache.SubmissionCounts `json:"events,omitempty"`
}

func NewAdminService(
	responseRepo *repository.ResponseRepository,
	counter SubmissionCounter,
	username string,
	passwordHash string,
	jwtSecret string,
	jwtExpiration time.Duration,
) *AdminService {
	if jwtExpiration <= 0 {
		jwtExpiration = time.Hour
	}
	return &AdminService{
		responseRepo:  responseRepo,
		counter:       counter,
		username:      username,
		passwordHash:  passwordHash,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

// Login checks the configured admin credentials. An empty password hash
// disables login entirely.
func (s *AdminService) Login(input AdminLoginInput) (*AdminLoginResult, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}
	if s.passwordHash == "" {
		return nil, ErrInvalidCredential
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(input.Password))
	if !userOK || passErr != nil {
		return nil, ErrInvalidCredential
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, username, AdminRole)
	if err != nil {
		return nil, err
	}
	return &AdminLoginResult{Token: token, ExpiresIn: s.jwtExpiration}, nil
}

func (s *AdminService) ListResponses(ctx context.Context, limit, offset int) ([]model.Response, error) {
	return s.responseRepo.List(ctx, limit, offset)
}

func (s *AdminService) GetResponse(ctx context.Context, id uint) (*model.Response, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	response, err := s.responseRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, ErrResponseNotFound
	}
	return response, nil
}

// Stats reports the stored row count, plus the broker-fed counters when a
// counter is configured. Counter failures are not fatal.
func (s *AdminService) Stats(ctx context.Context) (*ResponseStats, error) {
	stored, err := s.responseRepo.Count(ctx)
	if err != nil {
		return nil, err
	}

	stats := &ResponseStats{Stored: stored}
	if s.counter != nil {
		if counts, err := s.counter.Counts(ctx, time.Now()); err == nil {
			stats.Events = &counts
		}
	}
	return stats, nil
}
