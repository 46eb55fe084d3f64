// Package domain holds the caller identity and the error taxonomy shared by
// every layer: caller-caused errors (validation, constraint, authentication,
// authorization, aggregates of those) and the invocation wrapper. Anything
// outside this taxonomy is treated as a system error.
package domain
