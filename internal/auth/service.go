package auth

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/repository"
	"github.com/zots0127/gallery/pkg/config"
)

const codeLength = 6

// CodeSender delivers a verification code over the out-of-band
// messaging channel. The wire client is an external collaborator; the
// service only depends on this contract.
type CodeSender interface {
	SendCode(ctx context.Context, address, code, confirmURL string) error
}

// LogSender is the default CodeSender: it only logs the code. Useful
// for development and tests.
type LogSender struct{}

// SendCode logs the code instead of delivering it.
func (LogSender) SendCode(_ context.Context, address, code, _ string) error {
	log.Info().Str("address", address).Str("code", code).Msg("verification code issued")
	return nil
}

// Service issues short-lived verification codes and exchanges them for
// access tokens.
type Service struct {
	repo   *repository.Repository
	sender CodeSender

	tokenLifetime time.Duration
	codeLifetime  time.Duration
}

// NewService creates the auth service.
func NewService(repo *repository.Repository, sender CodeSender, cfg config.AuthConfig) *Service {
	if sender == nil {
		sender = LogSender{}
	}
	return &Service{
		repo:          repo,
		sender:        sender,
		tokenLifetime: cfg.TokenLifetime,
		codeLifetime:  cfg.CodeLifetime,
	}
}

// RequestCode generates a verification code for the address, persists
// it and dispatches delivery in the background. Returns a request id
// the client can correlate with the incoming message.
func (s *Service) RequestCode(ctx context.Context, address, confirmURL string) (string, error) {
	user, err := s.repo.GetOrCreateUser(ctx, address)
	if err != nil {
		return "", err
	}

	code := &domain.VerificationCode{
		UserID:  user.ID,
		Value:   generateCode(codeLength),
		Expires: time.Now().UTC().Add(s.codeLifetime),
	}
	if err := s.repo.CreateCode(ctx, code); err != nil {
		return "", err
	}

	requestID := uuid.NewString()

	// Delivery is best effort and off the request path.
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.sender.SendCode(sendCtx, address, code.Value, confirmURL); err != nil {
			log.Error().Err(err).Str("address", address).Msg("verification code delivery failed")
		}
	}()

	return requestID, nil
}

// ConfirmCode exchanges a valid, unexpired code for an access token.
// The code is consumed either way once seen expired.
func (s *Service) ConfirmCode(ctx context.Context, address, value, device, client string) (*domain.Token, error) {
	user, err := s.repo.GetOrCreateUser(ctx, address)
	if err != nil {
		return nil, err
	}

	code, err := s.repo.GetCode(ctx, user.ID, value)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if code.Expired(now) {
		s.repo.DeleteCode(ctx, code.ID)
		return nil, fmt.Errorf("%w: verification code expired", domain.ErrNotFound)
	}
	if err := s.repo.DeleteCode(ctx, code.ID); err != nil {
		return nil, err
	}

	token := &domain.Token{
		Key:       uuid.NewString(),
		UserID:    user.ID,
		Device:    device,
		Client:    client,
		CreatedAt: now,
		Expires:   now.Add(s.tokenLifetime),
	}
	if err := s.repo.CreateToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Authenticate resolves a token key to its user, rejecting expired
// tokens.
func (s *Service) Authenticate(ctx context.Context, key string) (*domain.User, error) {
	token, err := s.repo.GetTokenByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if token.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: token expired", domain.ErrNotFound)
	}
	return s.repo.GetUser(ctx, token.UserID)
}

// Tokens lists the user's issued tokens.
func (s *Service) Tokens(ctx context.Context, userID int64) ([]*domain.Token, error) {
	return s.repo.ListTokens(ctx, userID)
}

// Revoke deletes one of the user's tokens.
func (s *Service) Revoke(ctx context.Context, userID, tokenID int64) error {
	return s.repo.DeleteToken(ctx, tokenID, userID)
}

func generateCode(n int) string {
	const digits = "123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}
