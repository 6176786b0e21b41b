package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
)

// SQLiteCredentialStore implements CredentialStore against the credentials
// table. Fields is encrypted at rest with AES-256-GCM before it ever
// touches the fields BLOB column, per credential_schema.sql's comment that
// encryption happens above the schema layer. No third-party crypto library
// appeared anywhere in the retrieved pack, so this leans on crypto/aes +
// crypto/cipher directly rather than inventing a dependency that isn't
// grounded in any example.
type SQLiteCredentialStore struct {
	db  *database.DB
	gcm cipher.AEAD
}

// NewSQLiteCredentialStore builds a store that encrypts Fields with key,
// which must be exactly 32 bytes (AES-256).
func NewSQLiteCredentialStore(db *database.DB, key []byte) (*SQLiteCredentialStore, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential store cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential store gcm: %w", err)
	}
	return &SQLiteCredentialStore{db: db, gcm: gcm}, nil
}

func (s *SQLiteCredentialStore) SaveCredential(ctx context.Context, c domain.Credential) error {
	plaintext, err := json.Marshal(c.Fields)
	if err != nil {
		return fmt.Errorf("marshal credential fields: %w", err)
	}
	blob, err := s.encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credential fields: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, venue, testnet, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET venue=excluded.venue, testnet=excluded.testnet,
			fields=excluded.fields, updated_at=excluded.updated_at`,
		c.ID, c.Venue, boolToInt(c.Testnet), blob, now, now,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *SQLiteCredentialStore) Credential(ctx context.Context, id string) (*domain.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, venue, testnet, fields FROM credentials WHERE id = ?`, id)

	var c domain.Credential
	var venue string
	var testnet int
	var blob []byte
	err := row.Scan(&c.ID, &venue, &testnet, &blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	plaintext, err := s.decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential fields: %w", err)
	}
	if err := json.Unmarshal(plaintext, &c.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal credential fields: %w", err)
	}

	c.Venue = venue
	c.Testnet = testnet != 0
	return &c, nil
}

func (s *SQLiteCredentialStore) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *SQLiteCredentialStore) decrypt(blob []byte) ([]byte, error) {
	n := s.gcm.NonceSize()
	if len(blob) < n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := blob[:n], blob[n:]
	return s.gcm.Open(nil, nonce, ciphertext, nil)
}
