package crypto

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

// 密钥相关错误
var (
	// ErrBadKeyType 不支持的密钥类型
	ErrBadKeyType = errors.New("invalid or unsupported key type")

	// ErrNilPrivateKey 私钥为空
	ErrNilPrivateKey = errors.New("nil private key")

	// ErrNilPublicKey 公钥为空
	ErrNilPublicKey = errors.New("nil public key")

	// ErrInvalidKeySize 密钥大小无效
	ErrInvalidKeySize = errors.New("invalid key size")
)

// 序列化相关错误
var (
	// ErrUnmarshalFailed 反序列化失败
	ErrUnmarshalFailed = errors.New("unmarshal failed")
)

// 密钥文件相关错误
var (
	// ErrInvalidKeyFile 密钥文件格式无效
	ErrInvalidKeyFile = errors.New("invalid key file format")

	// ErrDecryptionFailed 解密失败（通常是口令错误）
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrPassphraseRequired 加密密钥文件需要口令
	ErrPassphraseRequired = errors.New("passphrase required")
)
