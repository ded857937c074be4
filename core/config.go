package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug    bool
		TestMode bool
		AppName  string
		Env      string // DEV (default), TEST, QA, PROD
		Build    string

		SecretKey       string
		FrontendBaseURL string
		WorkDir         string

		DefaultFromEmailStr string
		ContactEmailStr     string
		SendgridApiKey      string

		MediaRoot string
		MediaURL  string

		PasswordResetTimeoutDelta time.Duration

		RollbarToken string

		Server   ServerConfig
		Database DatabaseConfig
	}

	ServerConfig struct {
		Host                      string
		Port                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		DisableTLS    bool
	}
)

func (c ServerConfig) Address() string   { return c.Host + ":" + c.Port }
func (c DatabaseConfig) Address() string { return c.Host + ":" + c.Port }

// DefaultFromEmail parses the configured default sender into a mail.Address.
func (c *Config) DefaultFromEmail() mail.Address {
	return parseAddress(c.DefaultFromEmailStr)
}

// ContactEmail parses the configured contact-form recipient into a mail.Address.
func (c *Config) ContactEmail() mail.Address {
	return parseAddress(c.ContactEmailStr)
}

func parseAddress(s string) mail.Address {
	if addr, err := mail.ParseAddress(s); err == nil {
		return *addr
	}
	return mail.Address{Address: s}
}

// NewConfig loads the app configuration from defaults,
// an optional config/.env.<env> file and environment variables.
func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "SimpleMOOC")
	conf.SetDefault("build", "dev")
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("frontendBaseUrl", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "SimpleMOOC <noreply@localhost>")
	conf.SetDefault("contactEmail", "contact@localhost")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("mediaUrl", "/media")
	conf.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	conf.SetDefault("serverHost", "0.0.0.0")
	conf.SetDefault("serverPort", "8000")
	conf.SetDefault("debugHost", "0.0.0.0:4000")
	conf.SetDefault("shutdownTimeout", 5*time.Second)
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)

	conf.SetDefault("databaseEngine", "postgres")
	conf.SetDefault("databaseName", "simplemooc")
	conf.SetDefault("databaseUser", "")
	conf.SetDefault("databasePassword", "")
	conf.SetDefault("databaseAdminUser", "")
	conf.SetDefault("databaseAdminPassword", "")
	conf.SetDefault("databaseHost", "localhost")
	conf.SetDefault("databasePort", "5432")
	conf.SetDefault("databaseDisableTls", true)

	env := os.Getenv("ENV")
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	case "QA", "PROD":
		conf.SetDefault("debug", false)
	}
	conf.SetEnvPrefix(env)

	workDir := Getwd()
	conf.SetDefault("mediaRoot", filepath.Join(workDir, "media"))

	// load config/.env.<env> if it exists
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Debug:    conf.GetBool("debug"),
		TestMode: conf.GetBool("testMode"),
		AppName:  conf.GetString("appName"),
		Env:      env,
		Build:    conf.GetString("build"),

		SecretKey:       conf.GetString("secretKey"),
		FrontendBaseURL: conf.GetString("frontendBaseUrl"),
		WorkDir:         workDir,

		DefaultFromEmailStr: conf.GetString("defaultFromEmail"),
		ContactEmailStr:     conf.GetString("contactEmail"),
		SendgridApiKey:      conf.GetString("sendgridApiKey"),

		MediaRoot: conf.GetString("mediaRoot"),
		MediaURL:  conf.GetString("mediaUrl"),

		PasswordResetTimeoutDelta: conf.GetDuration("passwordResetTimeoutDelta"),

		RollbarToken: conf.GetString("rollbarToken"),

		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			Port:                      conf.GetString("serverPort"),
			DebugHost:                 conf.GetString("debugHost"),
			ShutdownTimeout:           conf.GetDuration("shutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("databaseEngine"),
			Name:          conf.GetString("databaseName"),
			User:          conf.GetString("databaseUser"),
			Password:      conf.GetString("databasePassword"),
			AdminUser:     conf.GetString("databaseAdminUser"),
			AdminPassword: conf.GetString("databaseAdminPassword"),
			Host:          conf.GetString("databaseHost"),
			Port:          conf.GetString("databasePort"),
			DisableTLS:    conf.GetBool("databaseDisableTls"),
		},
	}
}

// NewTestConfig returns a Config for unit tests: test mode on, media in a temp dir.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.Debug = true
	conf.TestMode = true
	conf.MediaRoot = filepath.Join(os.TempDir(), "simplemooc-test-media")
	return conf
}
