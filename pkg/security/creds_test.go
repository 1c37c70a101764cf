package security

import (
	"bytes"
	"testing"
)

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && e == nil {
				t.Error("NewEncryptor() returned nil without error")
			}
		})
	}
}

func TestNewEncryptorFromPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "valid password",
			password: "my-secure-password",
			wantErr:  false,
		},
		{
			name:     "empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEncryptorFromPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEncryptorFromPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && e == nil {
				t.Error("NewEncryptorFromPassword() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e, err := NewEncryptorFromPassword("test-password")
	if err != nil {
		t.Fatalf("NewEncryptorFromPassword() error = %v", err)
	}

	plaintext := []byte("proxy-secret-credential")
	ciphertext, err := e.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Encrypt() returned plaintext unchanged")
	}

	decrypted, err := e.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	e, err := NewEncryptorFromPassword("test-password")
	if err != nil {
		t.Fatalf("NewEncryptorFromPassword() error = %v", err)
	}

	plaintext := []byte("same input")
	c1, err := e.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	c2, err := e.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(c1, c2) {
		t.Error("Encrypt() produced identical ciphertexts for two calls (nonce reuse)")
	}
}

func TestDecryptRejectsTamperedData(t *testing.T) {
	e, err := NewEncryptorFromPassword("test-password")
	if err != nil {
		t.Fatalf("NewEncryptorFromPassword() error = %v", err)
	}

	ciphertext, err := e.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	ciphertext[len(ciphertext)-1] ^= 0xff
	if _, err := e.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	e1, _ := NewEncryptorFromPassword("password-one")
	e2, _ := NewEncryptorFromPassword("password-two")

	ciphertext, err := e1.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := e2.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() accepted ciphertext from a different key")
	}
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	e, _ := NewEncryptorFromPassword("test-password")
	if _, err := e.Decrypt([]byte{0x01, 0x02}); err == nil {
		t.Error("Decrypt() accepted ciphertext shorter than the nonce")
	}
}

func TestStringRoundTrip(t *testing.T) {
	e, err := NewEncryptorFromPassword("test-password")
	if err != nil {
		t.Fatalf("NewEncryptorFromPassword() error = %v", err)
	}

	encoded, err := e.EncryptString("hunter2")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	if encoded == "hunter2" {
		t.Error("EncryptString() returned plaintext unchanged")
	}

	decoded, err := e.DecryptString(encoded)
	if err != nil {
		t.Fatalf("DecryptString() error = %v", err)
	}
	if decoded != "hunter2" {
		t.Errorf("DecryptString() = %q, want %q", decoded, "hunter2")
	}

	// Empty strings pass through both directions.
	encoded, err = e.EncryptString("")
	if err != nil || encoded != "" {
		t.Errorf("EncryptString(\"\") = (%q, %v), want empty passthrough", encoded, err)
	}
	decoded, err = e.DecryptString("")
	if err != nil || decoded != "" {
		t.Errorf("DecryptString(\"\") = (%q, %v), want empty passthrough", decoded, err)
	}
}
