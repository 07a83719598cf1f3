// Package crypto holds the envelope primitives used by the login flow:
// RSA-OAEP opening of client-encrypted secrets, keyed re-signing of the
// opened secret into a whisper, and authenticated sealing of session tokens.
package crypto
