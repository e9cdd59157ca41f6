// Package config handles configuration loading for actor-gateway.
//
// # Configuration File
//
// The file is found at $ACTOR_GATEWAY_CONFIG, or
// $XDG_CONFIG_HOME/actor-gateway/gateway.yaml when the variable is unset.
// A path ending in .toml is read as TOML; anything else is YAML. Values not
// set in the file keep the defaults from Default, which describe a single
// gateway with in-memory cluster state.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ACTOR_GATEWAY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  response_timeout: "30s"
//	  announce_interval: "10s"
//	cluster:
//	  gateway_ttl: "30s"
//	events:
//	  dedupe_ttl: "5m"
//
// # Clustering
//
// With cluster.backend set to sqlite or redis, several gateways share agent
// placements and subscriptions. They forward requests to each other over
// NATS, so nats.url (or nats.embedded) is then required, and
// cluster.gateway_ttl must be longer than gateway.announce_interval or
// gateways would expire between announcements.
package config
