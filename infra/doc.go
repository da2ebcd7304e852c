// Package infra contains technical adapters: metrics exporters, the MQTT
// trace publisher, the Sentry monitor and the zerolog logger. These
// packages depend only on interfaces defined in the core packages.
package infra
