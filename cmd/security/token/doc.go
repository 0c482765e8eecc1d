// Package token provides opaque token generation and the digests used to key
// tokens in memory.
//
// Plain tokens (sessions, activation links, reset codes) are handed to the
// client once; the identity store only keeps their digest. The digest is
// HMAC-SHA256 when PROJECTHUB_TOKEN_HMAC_KEY is set and SHA-256 otherwise.
// Output is always 64-char lowercase hex.
package token
