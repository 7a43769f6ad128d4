package chat

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// KeySize 会话密钥长度（AES-256）
const KeySize = 32

// conversationInfo HKDF info 参数
const conversationInfo = "meshchat-conversation-v1"

// 聊天加密错误定义
var (
	// ErrInvalidKey 密钥长度错误
	ErrInvalidKey = errors.New("chat: invalid key")

	// ErrMalformed 消息字段无法解码
	ErrMalformed = errors.New("chat: malformed message")

	// ErrDecrypt 认证失败
	ErrDecrypt = errors.New("chat: decryption failed")
)

// DeriveKey 从共享秘密派生 a 与 b 之间的会话密钥
//
// 参数顺序不影响结果。
func DeriveKey(secret []byte, a, b types.NodeID) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidKey)
	}
	lo, hi := a, b
	if bytes.Compare(lo[:], hi[:]) > 0 {
		lo, hi = hi, lo
	}
	salt := append(lo.Bytes(), hi.Bytes()...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(conversationInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt 加密 plaintext，返回 nonce||密文 和单独的认证标签
func Encrypt(key, plaintext, aad []byte) (sealed, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(out) - gcm.Overhead()
	sealed = append(nonce, out[:split]...)
	tag = out[split:]
	return sealed, tag, nil
}

// Decrypt 验证标签并解密
func Decrypt(key, sealed, tag, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return nil, fmt.Errorf("%w: short ciphertext or tag", ErrMalformed)
	}

	nonce := sealed[:gcm.NonceSize()]
	ct := append(append([]byte(nil), sealed[gcm.NonceSize():]...), tag...)
	plaintext, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// ============================================================================
//                              MessageDTO
// ============================================================================

// Seal 把文本加密为可路由的消息
func Seal(key []byte, sender types.NodeID, text string, now time.Time) (*types.MessageDTO, error) {
	msg := &types.MessageDTO{
		ID:        uuid.NewString(),
		Timestamp: now.UnixMilli(),
		SenderID:  sender.String(),
	}
	sealed, tag, err := Encrypt(key, []byte(text), additionalData(msg))
	if err != nil {
		return nil, err
	}
	msg.EncryptedMessage = base64.StdEncoding.EncodeToString(sealed)
	msg.AuthTag = base64.StdEncoding.EncodeToString(tag)
	return msg, nil
}

// Open 解密消息文本
func Open(key []byte, msg *types.MessageDTO) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sealed, err := base64.StdEncoding.DecodeString(msg.EncryptedMessage)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}
	tag, err := base64.StdEncoding.DecodeString(msg.AuthTag)
	if err != nil {
		return "", fmt.Errorf("%w: tag: %v", ErrMalformed, err)
	}
	plaintext, err := Decrypt(key, sealed, tag, additionalData(msg))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Sender 解析消息声明的发送者
func Sender(msg *types.MessageDTO) (types.NodeID, error) {
	id, err := types.ParseNodeID(msg.SenderID)
	if err != nil {
		return types.EmptyNodeID, fmt.Errorf("%w: sender: %v", ErrMalformed, err)
	}
	return id, nil
}

// additionalData 认证 ID 和发送者
func additionalData(msg *types.MessageDTO) []byte {
	return []byte(msg.ID + "|" + msg.SenderID)
}
