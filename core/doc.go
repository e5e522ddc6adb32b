// Package core defines the tablevault domain model: tables and their fields,
// rows and attachments, shared grants, and the access resolver that decides
// what a caller may do with a table right now.
//
// # Encryption
//
// Documents are encrypted field by field before they reach a store. The
// Crypter wraps the codec and adds blind indexes (HMAC digests) so that
// equality filters, grantee lookups and unique checks work on ciphertext.
//
// # Errors
//
// Services return the sentinel errors in errors.go, possibly wrapped, and
// the typed ValidationError, DuplicateValueError and PermissionError. The
// API maps them to HTTP statuses.
package core
