package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

// ============================================================================
//                              密钥文件格式
// ============================================================================

//   ┌────────────────────────────────────────────────────────────┐
//   │  Magic:     "RETORO-KEY" (10 bytes)                        │
//   │  Version:   uint8                                          │
//   │  Encrypted: uint8 (0=否, 1=是)                             │
//   │  Data:      MarshalPrivateKey 结果或加密数据               │
//   └────────────────────────────────────────────────────────────┘
//
//   加密数据：Salt(16) | Nonce(12) | AES-256-GCM 密文
//   加密密钥：argon2id(passphrase, salt)

const (
	keyFileMagic   = "RETORO-KEY"
	keyFileVersion = 1
	keyFileHeader  = len(keyFileMagic) + 2

	saltSize = 16

	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// EncodeKeyFile 编码密钥文件内容，passphrase 为空时不加密
func EncodeKeyFile(key PrivateKey, passphrase []byte) ([]byte, error) {
	data, err := MarshalPrivateKey(key)
	if err != nil {
		return nil, err
	}

	encrypted := byte(0)
	if len(passphrase) > 0 {
		if data, err = seal(data, passphrase); err != nil {
			return nil, err
		}
		encrypted = 1
	}

	buf := make([]byte, 0, keyFileHeader+len(data))
	buf = append(buf, keyFileMagic...)
	buf = append(buf, keyFileVersion, encrypted)
	return append(buf, data...), nil
}

// DecodeKeyFile 解码密钥文件内容
func DecodeKeyFile(content, passphrase []byte) (PrivateKey, error) {
	if len(content) < keyFileHeader || !bytes.Equal(content[:len(keyFileMagic)], []byte(keyFileMagic)) {
		return nil, ErrInvalidKeyFile
	}
	if content[len(keyFileMagic)] != keyFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidKeyFile, content[len(keyFileMagic)])
	}

	data := content[keyFileHeader:]
	if content[len(keyFileMagic)+1] == 1 {
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		var err error
		if data, err = open(data, passphrase); err != nil {
			return nil, err
		}
	}
	return UnmarshalPrivateKey(data)
}

// SaveKeyFile 写入密钥文件（0600）
func SaveKeyFile(path string, key PrivateKey, passphrase []byte) error {
	content, err := EncodeKeyFile(key, passphrase)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o600)
}

// LoadKeyFile 读取密钥文件
func LoadKeyFile(path string, passphrase []byte) (PrivateKey, error) {
	content, err := os.ReadFile(path) //nolint:gosec // 路径由调用方指定
	if err != nil {
		return nil, err
	}
	return DecodeKeyFile(content, passphrase)
}

// LoadOrCreateKeyFile 读取密钥文件，不存在时生成新密钥并写入
//
// 第二个返回值表示是否新建。
func LoadOrCreateKeyFile(path string, passphrase []byte) (PrivateKey, bool, error) {
	key, err := LoadKeyFile(path, passphrase)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	key, _, err = GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKeyFile(path, key, passphrase); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func seal(plaintext, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, []byte(keyFileMagic)), nil
}

func open(data, passphrase []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, ErrInvalidKeyFile
	}
	gcm, err := newGCM(deriveKey(passphrase, data[:saltSize]))
	if err != nil {
		return nil, err
	}
	data = data[saltSize:]
	if len(data) < gcm.NonceSize() {
		return nil, ErrInvalidKeyFile
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], []byte(keyFileMagic))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
