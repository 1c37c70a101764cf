/*
Package security provides credential encryption for Scuttle.

This package implements AES-256-GCM encryption for proxy credentials at rest.
The task store holds proxy rows in BoltDB; when an encryption key is
configured, passwords in those rows are sealed before they touch disk and
opened again on read, so a copied database file leaks no usable credentials.

# Architecture

All encryption is rooted in a 32-byte key derived from the configured
passphrase during startup:

	key = SHA-256(store.encryption_key)  // 32 bytes for AES-256

The key lives only in process memory. An empty passphrase disables
encryption entirely: credentials are stored in plaintext, which is the
development-mode default.

# Encryption Format

Encrypt seals plaintext with AES-256-GCM and prepends the random nonce:

	ciphertext = nonce (12 bytes) || GCM(key, nonce, plaintext)

GCM provides both confidentiality and integrity: a tampered ciphertext fails
authentication on open rather than decrypting to garbage. EncryptString
base64-encodes the sealed bytes for storage inside JSON documents.

# Usage

Creating an encryptor from the configured passphrase:

	enc, err := security.NewEncryptorFromPassword(cfg.Store.EncryptionKey)
	if err != nil {
		return err
	}

Sealing and opening a credential:

	sealed, err := enc.EncryptString(proxy.Password)
	// store sealed ...
	plain, err := enc.DecryptString(sealed)

# Key Rotation

There is no automatic rotation. Rotating the passphrase requires re-writing
every proxy row: decrypt with the old key, encrypt with the new one. The
scuttle-migrate tool is the place such a pass would live.

# Integration Points

This package integrates with:

  - pkg/storage: encrypts proxy passwords before Put, decrypts after Get
  - pkg/config: store.encryption_key supplies the passphrase
  - cmd/scuttle: constructs the encryptor during server startup

# See Also

  - pkg/storage for the persistence layer that applies encryption
  - NIST SP 800-38D for GCM mode details
*/
package security
