// Package domain defines the core types shared across the gateway: the user
// model, the error taxonomy, and the JSON error body returned by the local
// API surface.
package domain
