package session

import (
	"time"

	"commune/cmd/identity/ids"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

// AccessClaims is the identity envelope carried by an access token.
type AccessClaims struct {
	UserID    ids.ID
	TokenID   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies access tokens.
type AccessTokenManager interface {
	Issue(userID ids.ID, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	PublicKeyHex() string
}

// PasetoV4PublicManager is the PASETO v4.public AccessTokenManager.
type PasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	ephemeral bool

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds a manager from cfg. An empty secret key
// yields a freshly generated one; tokens then do not survive a restart.
func NewPasetoV4PublicManager(cfg Config) (*PasetoV4PublicManager, error) {
	if cfg.Issuer == "" || cfg.AccessTokenTTL <= 0 || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}

	var (
		secret    paseto.V4AsymmetricSecretKey
		ephemeral bool
	)
	if cfg.PasetoV4SecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
		ephemeral = true
	} else {
		var err error
		secret, err = paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
	}

	return &PasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		ephemeral: ephemeral,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// Ephemeral reports whether the signing key was generated at startup.
func (m *PasetoV4PublicManager) Ephemeral() bool { return m.ephemeral }

func (m *PasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *PasetoV4PublicManager) Issue(userID ids.ID, now time.Time) (string, time.Time, error) {
	if userID.IsZero() {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, err
	}

	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetJti(jti.String())
	tok.SetString("uid", userID.String())

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks signature, issuer and validity window. A token past its
// expiration (beyond clock skew) yields ErrTokenExpired; every other
// failure yields ErrInvalidToken.
func (m *PasetoV4PublicManager) Verify(token string, now time.Time) (AccessClaims, error) {
	// Expiry is checked below so it can be told apart from a bad token.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if now.Add(-m.clockSkew).After(exp) {
		return AccessClaims{}, ErrTokenExpired
	}
	if nbf, err := parsed.GetNotBefore(); err == nil && now.Add(m.clockSkew).Before(nbf) {
		return AccessClaims{}, ErrInvalidToken
	}

	raw, err := parsed.GetString("uid")
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	uid, err := ids.Parse(raw)
	if err != nil || uid.IsZero() {
		return AccessClaims{}, ErrInvalidToken
	}
	jti, err := parsed.GetJti()
	if err != nil || jti == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	return AccessClaims{
		UserID:    uid,
		TokenID:   jti,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}
