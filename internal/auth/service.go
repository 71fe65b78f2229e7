package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jobmesh/platform/internal/platform/apierr"
	"github.com/jobmesh/platform/internal/platform/logger"
)

// Principal is the stored credential record for a bot_key, owned by the
// caller (the coordinator's worker table carries no secret; the credential
// is deliberately kept out of the domain.Worker row and supplied by
// whatever bootstrap-credential source the deployment configures).
type Principal struct {
	BotKey       string
	SecretHash   string
	Disabled     bool
	MinVersion   string
}

// PrincipalStore resolves a bot_key to its stored credential. The in-tree
// coordinator backs this with a static, operator-provisioned table (see
// cmd/coordinator) since credential provisioning is explicitly out of the
// core's scope (§1); a real deployment can swap in a database-backed
// implementation without touching Service.
type PrincipalStore interface {
	Lookup(ctx context.Context, botKey string) (*Principal, error)
}

// TokenEnvelope is IssueToken's result, which the token endpoint renders as
// its response body.
type TokenEnvelope struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
	IssuedAt    time.Time
}

// Service implements C2's two public operations used over HTTP: IssueToken
// and VerifyToken. jwks is served directly from the issuer's public key by
// the HTTP layer.
type Service struct {
	issuer    *TokenIssuer
	verifier  *TokenVerifier
	principal PrincipalStore
	limiter   RateLimiter
	minClientVersion string
	log       *logger.Logger
}

func NewService(issuer *TokenIssuer, verifier *TokenVerifier, principal PrincipalStore, limiter RateLimiter, minClientVersion string, log *logger.Logger) *Service {
	return &Service{
		issuer:           issuer,
		verifier:         verifier,
		principal:        principal,
		limiter:          limiter,
		minClientVersion: minClientVersion,
		log:              log.With("service", "auth.Service"),
	}
}

// IssueToken implements §4.2's issue_token operation. The lockout check runs
// before the principal lookup and the secret comparison. An unknown bot_key
// and a wrong secret get the same 401 response, but the unknown-key path
// returns without running the bcrypt comparison, so the two paths do not
// take the same time.
func (s *Service) IssueToken(ctx context.Context, botKey, bootstrapSecret, clientVersion string, scope []string) (*TokenEnvelope, error) {
	if clientVersion != "" && s.minClientVersion != "" && clientVersion < s.minClientVersion {
		return nil, apierr.Of(apierr.OutdatedClient, errors.New("client version below minimum"))
	}

	remaining, err := s.limiter.CheckLocked(ctx, botKey)
	if err != nil {
		return nil, apierr.Of(apierr.Unavailable, err)
	}
	if remaining > 0 {
		return nil, apierr.Of(apierr.RateLimited, errors.New("too many failed attempts"))
	}

	principal, err := s.principal.Lookup(ctx, botKey)
	unauthenticated := errors.New("invalid credentials")
	if err != nil || principal == nil {
		if _, rErr := s.limiter.RecordFailure(ctx, botKey); rErr != nil {
			s.log.Warn("rate limiter record failure error", "error", rErr)
		}
		return nil, apierr.Of(apierr.Auth, unauthenticated)
	}
	if !VerifySecret(principal.SecretHash, bootstrapSecret) {
		if _, rErr := s.limiter.RecordFailure(ctx, botKey); rErr != nil {
			s.log.Warn("rate limiter record failure error", "error", rErr)
		}
		return nil, apierr.Of(apierr.Auth, unauthenticated)
	}
	if principal.Disabled {
		return nil, apierr.Of(apierr.Forbidden, errors.New("principal disabled"))
	}

	if err := s.limiter.RecordSuccess(ctx, botKey); err != nil {
		s.log.Warn("rate limiter record success error", "error", err)
	}

	tokenString, claims, err := s.issuer.Issue(botKey, scope)
	if err != nil {
		return nil, apierr.Of(apierr.Unavailable, err)
	}
	return &TokenEnvelope{
		AccessToken: tokenString,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.issuer.TTL().Seconds()),
		IssuedAt:    claims.IssuedAt.Time,
	}, nil
}

// SessionTTLSeconds returns the configured token lifetime, used by the
// registration response to compute session.expires_in_sec.
func (s *Service) SessionTTLSeconds() int {
	return int(s.issuer.TTL().Seconds())
}

// VerifyToken implements §4.2's verify_token operation.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	claims, err := s.verifier.Verify(tokenString)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, apierr.Of(apierr.Auth, err)
		}
		return nil, apierr.Of(apierr.Auth, err)
	}
	return claims, nil
}
