package authflow

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every variable read by LoadConfigFromEnv, for example
// AUTHFLOW_JWT_ACCESS_TTL or AUTHFLOW_EMAIL_SEND_LIMIT.
const EnvPrefix = "AUTHFLOW_"

// jwtKeys carries key material, inline or from files.
type jwtKeys struct {
	PrivateKey     string `env:"JWT_PRIVATE_KEY,unset"`
	PrivateKeyFile string `env:"JWT_PRIVATE_KEY_FILE,file"`
	PublicKey      string `env:"JWT_PUBLIC_KEY"`
	PublicKeyFile  string `env:"JWT_PUBLIC_KEY_FILE,file"`
}

// LoadConfigFromEnv returns DefaultConfig overridden by AUTHFLOW_*
// variables. The named dotenv files are loaded first without overriding
// variables already set; with no names, ./.env is loaded when present.
// The result is validated.
func LoadConfigFromEnv(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(dotenvFiles...); err != nil {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	cfg := DefaultConfig()
	opts := env.Options{Prefix: EnvPrefix}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}

	var keys jwtKeys
	if err := env.ParseWithOptions(&keys, opts); err != nil {
		return Config{}, fmt.Errorf("parse jwt keys: %w", err)
	}
	switch {
	case keys.PrivateKey != "":
		cfg.JWT.PrivateKey = []byte(keys.PrivateKey)
	case keys.PrivateKeyFile != "":
		cfg.JWT.PrivateKey = []byte(keys.PrivateKeyFile)
	}
	switch {
	case keys.PublicKey != "":
		cfg.JWT.PublicKey = []byte(keys.PublicKey)
	case keys.PublicKeyFile != "":
		cfg.JWT.PublicKey = []byte(keys.PublicKeyFile)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
