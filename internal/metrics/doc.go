// Package metrics defines the gateway's Prometheus collectors.
package metrics
