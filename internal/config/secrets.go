package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: every key,
// password, token and DSN that is set reads "***".
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range []*string{
		&out.Wallet.PrivateKey,
		&out.Wallet.KeyPassword,
		&out.Credentials.ApiKey,
		&out.Credentials.ApiSecret,
		&out.Credentials.ApiPassphrase,
		&out.Extractor.ApiKey,
		&out.Remediation.ApiKey,
		&out.Server.ApiKey,
		&out.Supabase.DSN,
		&out.Supabase.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}
