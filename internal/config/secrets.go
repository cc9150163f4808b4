package config

import (
	"maps"
	"net/url"
	"slices"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redactDSN(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Polymarket.AssetIDs = slices.Clone(cfg.Polymarket.AssetIDs)
	out.Sim.AssetIDs = slices.Clone(cfg.Sim.AssetIDs)
	out.Export.AssetIDs = slices.Clone(cfg.Export.AssetIDs)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	if cfg.Sim.Params != nil {
		out.Sim.Params = maps.Clone(cfg.Sim.Params)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN masks only the password of a URL-style DSN so the host stays
// visible in logs. Anything unparseable is masked whole.
func redactDSN(s *string) {
	if *s == "" {
		return
	}
	u, err := url.Parse(*s)
	if err != nil || u.User == nil {
		*s = redacted
		return
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	*s = u.String()
}
