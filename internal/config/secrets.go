package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// OKX
	redact(&out.OKX.APIKey)
	redact(&out.OKX.APISecret)
	redact(&out.OKX.Passphrase)

	// Postgres
	redact(&out.Postgres.Password)
	redact(&out.Postgres.DSN)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	redact(&out.Notify.DingTalkSecret)
	redact(&out.Notify.TelegramToken)

	return out
}

// redact replaces a non-empty string with the placeholder.
func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
