package main

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
)

// keySize is the fixed symmetric key length used throughout the relay:
// session keys and channel keys are both 32 bytes (AES-256).
const keySize = 32

// hashPassword returns the SHA-256 digest of the UTF-8 password bytes.
// No salt — this matches the wire format the original client speaks and is
// preserved deliberately (see DESIGN.md open question #1).
func hashPassword(password string) [32]byte {
	return sha256.Sum256([]byte(password))
}

// generateToken returns n cryptographically random bytes, used for session
// IDs and symmetric keys.
func generateToken(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// encryptEnvelope encrypts plaintext under key with AES-256-CBC and PKCS#7
// padding, prefixing a freshly generated 16-byte IV to the ciphertext.
// Returns nil if key is not exactly 32 bytes or the cipher fails to
// initialize.
func encryptEnvelope(plaintext, key []byte) []byte {
	if len(key) != keySize {
		return nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out
}

// decryptEnvelope reverses encryptEnvelope. Returns nil if blob is shorter
// than one IV, the ciphertext is not a whole number of blocks, the padding
// is malformed, or key is not exactly 32 bytes.
func decryptEnvelope(blob, key []byte) []byte {
	if len(key) != keySize || len(blob) < aes.BlockSize {
		return nil
	}
	iv := blob[:aes.BlockSize]
	ciphertext := blob[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

// encryptCounter encrypts (or decrypts — AES-CTR is an involution) plaintext
// under key using AES-256-CTR with an IV built from counter written
// big-endian into the first 8 bytes, followed by 8 zero bytes.
func encryptCounter(plaintext, key []byte, counter uint64) []byte {
	if len(key) != keySize {
		return nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[:8], counter)

	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, plaintext)
	return out
}

// decryptCounter is encryptCounter under another name: CTR mode decryption
// is the identical XOR-keystream operation.
func decryptCounter(ciphertext, key []byte, counter uint64) []byte {
	return encryptCounter(ciphertext, key, counter)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil
		}
	}
	return data[:len(data)-padLen]
}
