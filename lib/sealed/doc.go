// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption and decryption for secrets the
// bridge keeps in Matrix account data. It wraps filippo.io/age for the
// operations needed: generate or load an x25519 identity, encrypt to
// recipients, and decrypt with the identity.
//
// Ciphertext is base64-encoded for storage in JSON fields. Callers pass
// plaintext []byte to [Encrypt] and receive a base64 string; [Decrypt]
// accepts a base64 string and returns plaintext.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair
//   - [LoadOrCreateIdentity] -- identity file kept on disk with 0600 permissions
//   - [Encrypt] / [Decrypt] -- base64 age ciphertext
//   - [ParsePublicKey] -- recipient validation
package sealed
