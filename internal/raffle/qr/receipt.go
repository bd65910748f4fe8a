package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"ms-raffle/internal/models"

	"github.com/skip2/go-qrcode"
)

type ReceiptGenerator struct {
	secret []byte
}

func NewReceiptGenerator(secret string) *ReceiptGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &ReceiptGenerator{secret: hashed[:]}
}

// GenerateWinnerQR encodes the draw outcome as an encrypted QR image the
// winner presents when claiming the prize.
func (g *ReceiptGenerator) GenerateWinnerQR(outcome models.DrawOutcome) ([]byte, error) {
	data, err := json.Marshal(outcome)
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptAES(data, g.secret)
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}
