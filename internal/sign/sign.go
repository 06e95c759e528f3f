// Package sign builds the signatures and encrypted payload fields the MT
// API requires. The salt, AES key and IV are fixed by the upstream client
// protocol and must not change.
package sign

import (
	"crypto/aes"
	"crypto/cipher"
	//nolint:gosec // MD5 is mandated by the upstream signature scheme.
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"strconv"

	"github.com/j5272000/campus-imaotai/internal/errs"
)

const (
	salt   = "2af72f100c356273d46284f6fd1dfc08"
	aesKey = "qbhajinldepmucsonaaaccgypwuvcjaa"
	aesIV  = "2018534749963515"
)

// Signature returns the lowercase-hex MD5 digest of salt+content+timestamp.
// content is the mobile number for verification codes, mobile+code for login.
// timestamp is milliseconds since epoch, rendered in decimal.
func Signature(content string, timestampMillis int64) string {
	text := salt + content + itoa(timestampMillis)
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Encrypt applies AES-CBC with PKCS#7 padding and the fixed key/IV, then
// base64-encodes the result. Used for the reservation actParam field.
func Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher([]byte(aesKey))
	if err != nil {
		return "", errs.Wrap(err, "init cipher")
	}
	padded := pad([]byte(plaintext), block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(aesIV)).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt is the exact inverse of Encrypt.
func Decrypt(ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", errs.Wrap(err, "decode ciphertext")
	}
	block, err := aes.NewCipher([]byte(aesKey))
	if err != nil {
		return "", errs.Wrap(err, "init cipher")
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return "", errs.New("ciphertext is not block-aligned")
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, []byte(aesIV)).CryptBlocks(out, raw)
	unpadded, err := unpad(out, block.BlockSize())
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n < 1 || n > size || n > len(b) {
		return nil, errs.New("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errs.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
