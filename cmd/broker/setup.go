package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/campusbot/attendance-broker/internal/auth"
	"github.com/campusbot/attendance-broker/internal/auto2fa"
	"github.com/campusbot/attendance-broker/internal/botbridge"
	"github.com/campusbot/attendance-broker/internal/broker"
	"github.com/campusbot/attendance-broker/internal/challenge"
	"github.com/campusbot/attendance-broker/internal/config"
	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/dynamo"
	"github.com/campusbot/attendance-broker/internal/httpapi"
	"github.com/campusbot/attendance-broker/internal/marking"
	"github.com/campusbot/attendance-broker/internal/notify"
	"github.com/campusbot/attendance-broker/internal/ratelimit"
	"github.com/campusbot/attendance-broker/internal/redis"
	"github.com/campusbot/attendance-broker/internal/secretstore"
	"github.com/campusbot/attendance-broker/internal/server"
	"github.com/campusbot/attendance-broker/internal/sessioncache"
	"github.com/campusbot/attendance-broker/internal/upstream"
	"github.com/campusbot/attendance-broker/internal/userstore"
)

// DynamoDB table names used by the stores wired below.
const (
	usersTable            = "users"
	pendingChallengeTable = "pending_challenges"
	sessionCookiesTable   = "session_cookies"
	markingSessionsTable  = "marking_sessions"
)

// JWT issuer/audience for the mass-marking ownership token (§4.H.3).
const (
	jwtIssuer   = "attendance-broker"
	jwtAudience = "marking-session"
)

// authenticatorIssuerAllow is the small allow-list of issuer substrings
// identifying Upstream's own authenticator entries among a multi-account
// export (§4.I).
var authenticatorIssuerAllow = []string{"mirea", "attendance"}

// devLocalSecretKeySize is the AES-256 key size the local Secret Store
// fallback needs, in bytes.
const devLocalSecretKeySize = 32

// challengeSweepInterval governs how often the Challenge Coordinator's
// cleanup_expired sweep runs, catching rows DynamoDB's own TTL reaper can
// lag up to 48h behind on (see challenge.Store.CleanupExpired).
const challengeSweepInterval = 10 * time.Minute

// setup is the broker service composition root. It wires every component
// behind the Upstream Session Broker: the Secret Store, the Upstream
// Client, the Session Cache, the Challenge Coordinator, the Auto-2FA
// Resolver, the Notification Limiter, the Session Broker façade itself, the
// Mass-Marking Engine, and the Bot Bridge.
func setup(ctx context.Context, deps server.SetupDeps) (func(context.Context) error, error) {
	cfg := deps.Config
	logger := deps.Logger
	clock := domain.RealClock{}

	dynamoClient, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: cfg.DynamoDB.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("broker setup: create dynamo client: %w", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	secrets, err := createSecretStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("broker setup: create secret store: %w", err)
	}

	keyStore, err := createKeyStore(ctx, cfg, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("broker setup: create key store: %w", err)
	}

	alertSender, err := createAlertSender(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("broker setup: create alert sender: %w", err)
	}

	notifySender := createNotifySender(cfg, logger)

	// Adapters.
	users := userstore.NewAlertingStore(userstore.NewStore(dynamoClient.DB, usersTable, secrets), alertSender, logger)
	challenges := challenge.NewStore(dynamoClient.DB, pendingChallengeTable, clock)
	sessions := sessioncache.NewStore(
		sessioncache.NewRedisCache(redisClient.RDB),
		sessioncache.NewDynamoStore(dynamoClient.DB, sessionCookiesTable, clock),
		logger,
	)
	notifyMarker := notify.NewRedisMarker(redisClient.RDB)
	notifyLimiter := notify.NewLimiter(challenges, notifySender, notifyMarker, clock, logger)
	rateLimiter := ratelimit.NewLimiter(redisClient.RDB, cfg.RateLimit.RequestsPerMinute)
	markingStore := marking.NewStore(dynamoClient.DB, markingSessionsTable, secrets, clock)
	revocation := marking.NewRevocationStore(redisClient.RDB)

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore:  keyStore,
		AccessTTL: domain.MarkingTokenLifetime,
		Issuer:    jwtIssuer,
		Audience:  jwtAudience,
		Clock:     clock,
	})
	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keyStore,
		Issuer:   jwtIssuer,
		Audience: jwtAudience,
		Clock:    clock,
	})

	upstreamClient := upstream.NewClient(&http.Transport{})
	auto2faResolver := auto2fa.NewResolver(upstreamClient, clock)

	sessionBroker := broker.New(sessions, challenges, users, upstreamClient, auto2faResolver, notifyLimiter, clock)
	markingEngine := marking.New(markingStore, sessionBroker, users, notifySender, minter, validator, revocation, clock, logger)
	bridge := botbridge.New(sessionBroker, users, authenticatorIssuerAllow).WithLimiter(rateLimiter)

	httpapi.New(sessionBroker, markingEngine, bridge, logger).Register(deps.HTTPMux)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go runChallengeSweep(sweepCtx, sweepDone, challenges, logger)

	logger.InfoContext(ctx, "attendance broker initialized")

	cleanup := func(_ context.Context) error {
		stopSweep()
		<-sweepDone
		return redisClient.Close()
	}

	return cleanup, nil
}

// runChallengeSweep periodically deletes PendingChallenge rows whose
// expires_at has passed, catching what DynamoDB's own TTL reaper hasn't
// caught up with yet. It runs until ctx is cancelled.
func runChallengeSweep(ctx context.Context, done chan<- struct{}, challenges *challenge.Store, logger *slog.Logger) {
	defer close(done)
	ticker := time.NewTicker(challengeSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := challenges.CleanupExpired(ctx)
			if err != nil {
				logger.Error("challenge sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("swept expired challenges", slog.Int("count", n))
			}
		}
	}
}

// createSecretStore returns the Secret Store Adapter (component A) for the
// environment. Local development wraps an ephemeral (or LocalKeyHex-seeded)
// AES-256 key; production delegates wrapping to AWS KMS.
func createSecretStore(ctx context.Context, cfg *config.Config) (secretstore.Store, error) {
	if cfg.IsLocal() {
		key, err := localSecretKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve local secret key: %w", err)
		}
		return secretstore.NewLocalStore(key)
	}
	if cfg.SecretStore.KMSKeyID == "" {
		if cfg.SecretStore.LocalKeyHex != "" {
			key, err := localSecretKey(cfg)
			if err != nil {
				return nil, fmt.Errorf("resolve local secret key: %w", err)
			}
			return secretstore.NewLocalStore(key)
		}
		return nil, fmt.Errorf("%w: secretstore.kms_key_id", domain.ErrConfigRequired)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	kmsClient := kms.NewFromConfig(awsCfg)
	return secretstore.NewKMSStore(kmsClient, cfg.SecretStore.KMSKeyID), nil
}

// localSecretKey returns the AES-256 key for secretstore.NewLocalStore:
// cfg.SecretStore.LocalKeyHex if set, otherwise a freshly generated
// ephemeral key (local development only — data encrypted under it does not
// survive a restart).
func localSecretKey(cfg *config.Config) ([]byte, error) {
	if cfg.SecretStore.LocalKeyHex != "" {
		key, err := hex.DecodeString(cfg.SecretStore.LocalKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode local_key_hex: %w", err)
		}
		return key, nil
	}
	key := make([]byte, devLocalSecretKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate ephemeral secret key: %w", err)
	}
	return key, nil
}

// createKeyStore returns the JWT KeyStore for the environment. Local
// development generates an ephemeral RSA key pair; production loads the
// signing key and rotation set from Secrets Manager and SSM.
func createKeyStore(ctx context.Context, cfg *config.Config, clock domain.Clock, logger *slog.Logger) (auth.KeyStore, error) {
	if cfg.IsLocal() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate dev RSA key: %w", err)
		}
		logger.Info("using ephemeral RSA key for local development", slog.String("key_id", "dev-key-001"))
		return auth.NewStaticKeyStore(key, "dev-key-001"), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	smClient := secretsmanager.NewFromConfig(awsCfg)
	ssmClient := ssm.NewFromConfig(awsCfg)
	return auth.NewAWSKeyStore(ctx, smClient, ssmClient, clock)
}

// createAlertSender returns the operator-alert channel (§7): an SNS topic
// in production, a log line in local development.
func createAlertSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Alerter, error) {
	if cfg.IsLocal() || cfg.Alert.TopicARN == "" {
		return notify.NewLogAlertSender(logger), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	snsClient := sns.NewFromConfig(awsCfg)
	return notify.NewSNSAlertSender(snsClient, cfg.Alert.TopicARN), nil
}

// createNotifySender returns the out-of-band message channel (§4.F, §6):
// the chat bot's HTTP API in production, a log line in local development.
func createNotifySender(cfg *config.Config, logger *slog.Logger) notify.Sender {
	if cfg.IsLocal() || cfg.Bot.Token == "" {
		logger.Info("using log-only notification sender for local development")
		return notify.NewLogSender(logger)
	}
	return notify.NewBotSender(&http.Client{Timeout: cfg.Upstream.Timeout}, domain.SecretString(cfg.Bot.Token))
}
