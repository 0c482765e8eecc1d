// Package password holds the credential hasher and the password acceptance policy.
//
// Stored digests are lowercase hex over password || salt. Two schemes exist:
// plain SHA-256 (the format already persisted in user records) and Argon2id
// with fixed parameters. The scheme is chosen once per process from config;
// mixing schemes across records is not supported.
package password
