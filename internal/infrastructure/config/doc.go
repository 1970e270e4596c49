// Package config loads the hub configuration: a YAML file overlaid with
// SNAPDOG_* environment variables (caarlos0/env), then validated.
//
// Zones and clients are declared in the file with their 1-based index,
// Snapcast binding and optional KNX group addresses. Secrets such as
// api.auth.jwt_secret, mqtt.auth.password and influxdb.token are best
// supplied through the environment:
//
//	SNAPDOG_API_AUTH_JWT_SECRET=... SNAPDOG_CONFIG=/etc/snapdog/config.yaml snapdog
//
// Durations are plain integers in the unit their key names (seconds unless
// the key ends in _ms); Seconds and Millis convert them.
package config
