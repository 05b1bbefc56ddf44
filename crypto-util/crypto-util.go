package crypto_util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
)

const (
	IV = "00112233445566778899aabbccddeeff"
)

// Secrets in the config file (Mongo URI, SMTP password) are stored as hex
// AES-256-CBC ciphertext when EncryptionFlag is set.
// Encrypt manually with:
// openssl enc -aes-256-cbc -in secret.txt -out ciphertext.bin -K <sha256 of seed> -iv 00112233445566778899aabbccddeeff -p -nosalt
// and generate the key with:
// echo -n "<seed>" | openssl dgst -sha256

// GenerateKey derives the AES key from a seed string.
func GenerateKey(seed string) []byte {
	hash := sha256.New()
	hash.Write([]byte(seed))
	return hash.Sum(nil)
}

// EncryptAES256CBC pads the plaintext to the block size with zero bytes and
// encrypts it.
func EncryptAES256CBC(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(err, errors.New("crypto util encrypt AES-CBC"))
	}

	if len(plaintext)%aes.BlockSize != 0 {
		paddingSize := aes.BlockSize - (len(plaintext) % aes.BlockSize)
		padding := make([]byte, paddingSize)
		plaintext = append(plaintext, padding...)
	}

	ciphertext := make([]byte, len(plaintext))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, plaintext)

	return ciphertext, nil
}

// DecryptAES256CBC decrypts; the caller trims any zero-byte padding.
func DecryptAES256CBC(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(err, errors.New("crypto util decrypt AES-CBC"))
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("crypto util decrypt AES-CBC: ciphertext not block aligned")
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}
