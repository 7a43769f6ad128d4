// Package chat 加密和解密聊天消息
//
// 会话密钥由双方共享的秘密经 HKDF-SHA256 派生，盐是两个节点 ID
// 按字节序拼接，双方派生出同一把密钥。消息用 AES-256-GCM 加密，
// 认证标签与密文分开存放：
//
//	EncryptedMessage = base64(nonce || 密文)
//	AuthTag          = base64(标签)
//
// 消息 ID 和发送者作为附加数据参与认证。
package chat
