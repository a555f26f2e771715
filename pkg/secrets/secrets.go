// Package secrets cifra en reposo las credenciales de los emisores (contraseña del MH y
// passwordPri del certificado) con NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrMalformed el texto cifrado no tiene el formato esperado o no autentica con la llave.
var ErrMalformed = errors.New("secrets: texto cifrado inválido")

// Box sella y abre secretos con una llave simétrica de 32 bytes.
type Box struct {
	key [keySize]byte
}

// New crea un Box a partir de la llave en hexadecimal (SECRETS_KEY, 64 caracteres).
func New(hexKey string) (*Box, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: llave no es hexadecimal: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("secrets: la llave debe tener %d bytes, tiene %d", keySize, len(raw))
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal cifra plain; el resultado es base64(nonce || caja).
func (b *Box) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: generar nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open descifra un valor producido por Seal.
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrMalformed
	}
	return string(plain), nil
}
