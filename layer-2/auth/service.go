package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	gonanoid "github.com/jaevor/go-nanoid"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/repository"
)

// NoncePrefix starts every login challenge
const NoncePrefix = "Sign to log in to AgriTraceChain: "

// Session is what a successful login returns
type Session struct {
	AccessToken   string `json:"accessToken"`
	TokenType     string `json:"tokenType"`
	ExpiresIn     int64  `json:"expiresIn"`
	AddressWallet string `json:"addressWallet"`
}

// Service runs the wallet challenge-response login
type Service struct {
	nonces   NonceStore
	tokens   *JWTManager
	nonceTTL time.Duration
	newID    func() string
	logger   cmtlog.Logger
}

func NewService(nonces NonceStore, tokens *JWTManager, nonceTTL time.Duration, logger cmtlog.Logger) (*Service, error) {
	newID, err := gonanoid.Standard(21)
	if err != nil {
		return nil, err
	}
	return &Service{
		nonces:   nonces,
		tokens:   tokens,
		nonceTTL: nonceTTL,
		newID:    newID,
		logger:   logger.With("module", "auth"),
	}, nil
}

// IssueNonce creates a fresh challenge for address, replacing any outstanding one
func (s *Service) IssueNonce(ctx context.Context, address string) (string, error) {
	if address == "" {
		return "", apperror.Validation("addressWallet is required")
	}
	if !IsWalletAddress(address) {
		return "", apperror.Validation("addressWallet is not a valid wallet address")
	}

	nonce := NoncePrefix + s.newID()
	if err := s.nonces.Put(ctx, repository.NormalizeWallet(address), nonce, s.nonceTTL); err != nil {
		return "", apperror.Internal("failed to store nonce", err)
	}
	return nonce, nil
}

// VerifySignature consumes the stored nonce and, if signature proves control of
// address over it, returns a session token.
func (s *Service) VerifySignature(ctx context.Context, address, nonce, signature string) (*Session, error) {
	if address == "" || nonce == "" || signature == "" {
		return nil, apperror.Validation("addressWallet, nonce and signature are required")
	}
	if !IsWalletAddress(address) {
		return nil, apperror.Validation("addressWallet is not a valid wallet address")
	}

	stored, err := s.nonces.Take(ctx, repository.NormalizeWallet(address))
	if errors.Is(err, ErrNonceNotFound) {
		return nil, apperror.Authentication("nonce expired or was never issued")
	}
	if err != nil {
		return nil, apperror.Internal("failed to read nonce", err)
	}
	if stored != nonce {
		return nil, apperror.Authentication("nonce does not match the issued challenge")
	}

	if err := VerifyWalletSignature(address, nonce, signature); err != nil {
		s.logger.Info("Rejected login signature", "address", address, "err", err)
		return nil, apperror.Authentication("invalid signature")
	}

	token, err := s.tokens.GenerateAccessToken(repository.NormalizeWallet(address))
	if err != nil {
		return nil, apperror.Internal("failed to issue token", err)
	}
	return &Session{
		AccessToken:   token,
		TokenType:     "Bearer",
		ExpiresIn:     s.tokens.AccessTokenDuration(),
		AddressWallet: repository.NormalizeWallet(address),
	}, nil
}

// Authenticate validates an Authorization header value
func (s *Service) Authenticate(header string) (*Claims, error) {
	if header == "" {
		return nil, apperror.Unauthorized("missing authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, apperror.Unauthorized("authorization header must be a Bearer token")
	}

	claims, err := s.tokens.ValidateToken(token)
	if errors.Is(err, ErrExpiredToken) {
		return nil, apperror.Unauthorized("token has expired")
	}
	if err != nil {
		return nil, apperror.Unauthorized("invalid token")
	}
	return claims, nil
}
