package push

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// aes128gcm payload layout (RFC 8188):
//
//	salt(16) | record_size(4, BE) | keyid_len(1) | keyid | ciphertext
//
// For web push (RFC 8291) keyid is the sender's uncompressed P-256 public key
// and the whole payload is a single record.
const (
	saltLength      = 16
	headerMinLength = saltLength + 4 + 1
	publicKeyLength = 65
	authSecretLen   = 16
	cekLength       = 16
	nonceLength     = 12
)

// decryptPayload decrypts an aes128gcm web push message addressed to the
// subscription keys.
func decryptPayload(privateKey *ecdh.PrivateKey, authSecret, payload []byte) ([]byte, error) {
	if len(payload) < headerMinLength {
		return nil, fmt.Errorf("payload shorter than header")
	}

	salt := payload[:saltLength]
	keyIDLen := int(payload[saltLength+4])
	if keyIDLen != publicKeyLength {
		return nil, fmt.Errorf("unexpected keyid length %d", keyIDLen)
	}
	if len(payload) < headerMinLength+keyIDLen {
		return nil, fmt.Errorf("payload truncated inside keyid")
	}

	senderPublicRaw := payload[headerMinLength : headerMinLength+keyIDLen]
	ciphertext := payload[headerMinLength+keyIDLen:]

	senderPublic, err := ecdh.P256().NewPublicKey(senderPublicRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid sender public key: %w", err)
	}

	sharedSecret, err := privateKey.ECDH(senderPublic)
	if err != nil {
		return nil, fmt.Errorf("ecdh agreement failed: %w", err)
	}

	// RFC 8291 §3.3: combine the ECDH secret with the auth secret first.
	keyInfo := append([]byte("WebPush: info\x00"), privateKey.PublicKey().Bytes()...)
	keyInfo = append(keyInfo, senderPublicRaw...)
	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, authSecret, keyInfo), ikm); err != nil {
		return nil, fmt.Errorf("ikm derivation failed: %w", err)
	}

	cek := make([]byte, cekLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: aes128gcm\x00")), cek); err != nil {
		return nil, fmt.Errorf("cek derivation failed: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: nonce\x00")), nonce); err != nil {
		return nil, fmt.Errorf("nonce derivation failed: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return stripPadding(plaintext)
}

// stripPadding removes the RFC 8188 record delimiter (0x02 for the final
// record) and the zero padding behind it.
func stripPadding(record []byte) ([]byte, error) {
	i := len(record) - 1
	for i >= 0 && record[i] == 0x00 {
		i--
	}
	if i < 0 || record[i] != 0x02 {
		return nil, fmt.Errorf("missing record delimiter")
	}
	return record[:i], nil
}
