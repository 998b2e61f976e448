package credcore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/cadencesec/credcore/jwt"
	"github.com/cadencesec/credcore/password"
)

// Builder assembles an [Engine] from configuration and dependencies.
//
// Builder instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	store    CredentialStore
	hasher   CredentialHasher
	verifier WebAuthnVerifier
	clock    Clock

	auditSink AuditSink

	built bool
}

// New returns a [Builder] preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the ephemeral challenge stores.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the persistence port for User aggregates.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithHasher overrides the default Argon2id credential hasher.
func (b *Builder) WithHasher(hasher CredentialHasher) *Builder {
	b.hasher = hasher
	return b
}

// WithWebAuthnVerifier sets the ceremony cryptography port. Required only
// when device enrollment or device MFA is used.
func (b *Builder) WithWebAuthnVerifier(verifier WebAuthnVerifier) *Builder {
	b.verifier = verifier
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithAuditSink sets the sink receiving audit events and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles the in-process metrics system.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histogram collection.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the dependencies, and returns a
// ready [Engine]. A builder can be used once.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		verifier: b.verifier,
		clock:    b.clock,
	}
	if engine.clock == nil {
		engine.clock = systemClock{}
	}

	engine.partialStore = newPartialSessionStore(b.redis, cfg.MFA.RedisPrefix)
	engine.emailCodes = newEmailCodeStore(b.redis, cfg.MFA.RedisPrefix)
	engine.lockout = lockoutPolicy{config: cfg.Lockout}
	engine.policy = passwordPolicy{config: cfg.PasswordPolicy}
	engine.totp = newTOTPManager(cfg.TOTP)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	engine.hasher = b.hasher
	if engine.hasher == nil {
		ph, err := password.NewArgon2(password.DefaultConfig())
		if err != nil {
			return nil, err
		}
		engine.hasher = ph
	}

	if cfg.JWT.SigningMethod == "" {
		cfg.JWT.SigningMethod = "ed25519"
	}
	privateKey := append([]byte(nil), cfg.JWT.PrivateKey...)
	publicKey := append([]byte(nil), cfg.JWT.PublicKey...)
	if cfg.JWT.SigningMethod != "hs256" && len(privateKey) == 0 && len(publicKey) == 0 {
		// Ephemeral keypair: issued tokens outlive neither the process nor
		// a restart. Production deployments configure persistent keys.
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		privateKey = priv
		publicKey = pub
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    privateKey,
		PublicKey:     publicKey,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
