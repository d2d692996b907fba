package authflow

import (
	"errors"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/authflow/internal/audit"
	"github.com/MrEthical07/authflow/internal/limiters"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/password"
	"github.com/MrEthical07/authflow/session"
	"github.com/MrEthical07/authflow/totp"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	accounts AccountStore
	sender   CodeSender
	sink     AuditSink
	logger   *zap.Logger
	now      func() time.Time

	built bool
}

// New starts from DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

func (b *Builder) WithCodeSender(sender CodeSender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source used for TOTP steps and tokens.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.sender == nil {
		return nil, errors.New("code sender required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ph, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	dummy, err := ph.Hash(ulid.Make().String())
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	te, err := totp.New(totp.Config{
		Issuer:    cfg.TwoFactor.Issuer,
		Period:    cfg.TwoFactor.Period,
		Digits:    cfg.TwoFactor.Digits,
		Skew:      cfg.TwoFactor.Skew,
		Algorithm: cfg.TwoFactor.Algorithm,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:     cfg,
		now:        now,
		log:        logger.Named("authflow"),
		accounts:   b.accounts,
		sender:     b.sender,
		sessions:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		emailCodes: stores.NewEmailCodeStore(b.redis, cfg.EmailCode.RedisPrefix),
		loginLimiter: limiters.New(b.redis, limiters.Config{
			Prefix:      "af:lim:login",
			MaxAttempts: cfg.Login.MaxAttempts,
			Window:      cfg.Login.Window,
		}),
		secondFactorLimiter: limiters.New(b.redis, limiters.Config{
			Prefix:      "af:lim:2fa",
			MaxAttempts: cfg.TwoFactor.MaxAttempts,
			Window:      cfg.TwoFactor.Window,
		}),
		passwords: ph,
		dummyHash: dummy,
		tokens:    jm,
		totp:      te,
		metrics:   NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Logger:     logger.Named("audit"),
		}, b.sink),
	}

	b.built = true
	return e, nil
}
