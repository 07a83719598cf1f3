// Package keyvault issues short-lived RSA keypairs per account.
//
// A client asks for an account's public key, encrypts its secret with it and
// submits the result; the server opens it with the matching private key.
// Keypairs live for a fixed window (three minutes by default), are reused
// within that window, and are swept or invalidated afterwards.
//
// Storage is pluggable: MemoryStore keeps private keys inside memguard
// enclaves for a single process, RedisStore shares sealed keypairs across
// instances.
package keyvault
