package internal

import (
	"care-signal/domain"
	"care-signal/errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const minSecretLength = 32

// DefaultStunURLs is used when STUN_URLS is not set.
var DefaultStunURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
}

type Config struct {
	Host      string `env:"HOST,default=0.0.0.0" validate:"required"`
	Port      int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	GrpcPort  int    `env:"GRPC_PORT,default=9090" validate:"min=1,max=65535"`
	DebugPort int    `env:"DEBUG_PORT,default=8081" validate:"min=1,max=65535"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true" validate:"required"`

	KeepAliveInterval  time.Duration `env:"KEEP_ALIVE_INTERVAL,default=25s" validate:"gt=0"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT,default=30s" validate:"gt=0"`
	NegotiationTimeout time.Duration `env:"NEGOTIATION_TIMEOUT,default=10s" validate:"gt=0"`
	CommandTimeout     time.Duration `env:"COMMAND_TIMEOUT,default=5s" validate:"gt=0"`
	PersistenceTimeout time.Duration `env:"PERSISTENCE_TIMEOUT,default=3s" validate:"gt=0"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	MetricInterval     time.Duration `env:"METRIC_INTERVAL,default=1m" validate:"gt=0"`

	CommandBufferSize    int   `env:"COMMAND_BUFFER_SIZE,default=1024" validate:"min=1"`
	ConnectionBufferSize int   `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"min=1"`
	CallLogBufferSize    int   `env:"CALL_LOG_BUFFER_SIZE,default=256" validate:"min=1"`
	MaxMessageSize       int64 `env:"MAX_MESSAGE_SIZE,default=65536" validate:"min=1024"`

	AuthRequired bool   `env:"AUTH_REQUIRED,default=false"`
	AuthSecret   string `env:"AUTH_SECRET" validate:"required_if=AuthRequired true"`

	StunURLs       string `env:"STUN_URLS"`
	TurnURL        string `env:"TURN_URL"`
	TurnUsername   string `env:"TURN_USERNAME" validate:"required_with=TurnURL"`
	TurnCredential string `env:"TURN_CREDENTIAL" validate:"required_with=TurnURL"`
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.AuthRequired && len(c.AuthSecret) < minSecretLength {
		return fmt.Errorf("AUTH_SECRET must be at least %d characters", minSecretLength)
	}
	return nil
}

// IceServers builds the STUN list, plus the TURN relay when one is configured.
func (c Config) IceServers() ([]domain.IceServer, error) {
	urls := DefaultStunURLs
	if c.StunURLs != "" {
		urls = lo.Compact(lo.Map(strings.Split(c.StunURLs, ","), func(u string, _ int) string {
			return strings.TrimSpace(u)
		}))
	}
	var servers []domain.IceServer
	for _, u := range urls {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
			return nil, fmt.Errorf("%w: %q is not a stun url", errors.ErrInvalidIceServers, u)
		}
		servers = append(servers, domain.IceServer{URLs: []string{u}})
	}

	if c.TurnURL != "" {
		if !strings.HasPrefix(c.TurnURL, "turn:") && !strings.HasPrefix(c.TurnURL, "turns:") {
			return nil, fmt.Errorf("%w: %q is not a turn url", errors.ErrInvalidIceServers, c.TurnURL)
		}
		servers = append(servers, domain.IceServer{
			URLs:       []string{c.TurnURL},
			Username:   c.TurnUsername,
			Credential: c.TurnCredential,
		})
	}
	return servers, nil
}
