// Package mysql provides repositories and data access helpers backed by
// MySQL, alongside in-memory stand-ins used for development and testing. It
// encapsulates schema migrations and strongly typed queries for persisting
// step execution history and user accounts.
package mysql
