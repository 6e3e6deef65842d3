package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

type encryptedKeyFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptPrivateKey wallet key sealed with password, JSON for PRIVATE_KEY_FILE
func EncryptPrivateKey(privateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("config / EncryptPrivateKey : empty password")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "config / EncryptPrivateKey / salt")
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "config / EncryptPrivateKey / nonce")
	}
	return json.MarshalIndent(encryptedKeyFile{
		Version:    keyFileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(privateKey), nil)),
	}, "", "  ")
}

// DecryptPrivateKey open JSON produced by EncryptPrivateKey
func DecryptPrivateKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("config / DecryptPrivateKey : empty password")
	}
	var stored encryptedKeyFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", errors.Wrap(err, "config / DecryptPrivateKey / parse")
	}
	if stored.Version != keyFileVersion {
		return "", errors.Errorf("config / DecryptPrivateKey : unsupported version %d", stored.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", errors.Wrap(err, "config / DecryptPrivateKey / salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", errors.Wrap(err, "config / DecryptPrivateKey / nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "config / DecryptPrivateKey / ciphertext")
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", errors.New("config / DecryptPrivateKey : bad nonce size")
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, "config / DecryptPrivateKey / wrong password or corrupted file")
	}
	return string(plain), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "config / cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "config / gcm")
	}
	return gcm, nil
}

// WalletKey private key from PRIVATE_KEY, otherwise decrypted from PRIVATE_KEY_FILE.
// Empty key without error when neither is set
func (c *Config) WalletKey() (string, error) {
	if key := strings.TrimSpace(c.PrivateKey); key != "" {
		return key, nil
	}
	if c.PrivateKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return "", errors.Wrap(err, "config / WalletKey / read key file")
	}
	return DecryptPrivateKey(data, c.PrivateKeyPassword)
}
