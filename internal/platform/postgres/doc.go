// Package postgres persists synchronization run history in PostgreSQL. It
// opens connections through the pgx stdlib driver and applies its schema
// with embedded goose migrations.
package postgres
