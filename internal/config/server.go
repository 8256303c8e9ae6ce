package config

import "github.com/caarlos0/env/v11"

type ServerConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	// External authentication service.
	AuthBaseURL     string `env:"AUTH_BASE_URL" envDefault:"http://localhost:9000"`
	AuthCallbackURL string `env:"AUTH_CALLBACK_URL" envDefault:"http://localhost:8080/api/auth/callback"`

	// Profile pages advertised to logged-in clients. {session} in the RML
	// variant is replaced with the new session id on login completion.
	ProfileURL    string `env:"PROFILE_URL"`
	ProfileURLRML string `env:"PROFILE_URL_RML"`

	TicketExpirySecs  int `env:"TICKET_EXPIRATION_SECONDS" envDefault:"60"`
	LoginHandleTTLMin int `env:"LOGIN_HANDLE_TTL_MINUTES" envDefault:"5"`
	DefaultGamePort   int `env:"DEFAULT_GAME_PORT" envDefault:"44400"`

	// Optional directory for archiving decoded match reports.
	ReportDir string `env:"REPORT_DIR"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
