package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"hash"
)

// These constants mirror bundoc/security/scram.go's ScramIterCount and
// ScramSaltLen; the handshake machinery around them (client/server proof
// exchange) is not needed since there is no wire-level challenge-response
// step here, only a local password comparison.
const (
	pbkdf2Iterations = 4096
	saltLen          = 16
)

func generateSalt() (string, error) {
	b := make([]byte, saltLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// deriveKey computes the stored credential for password under salt,
// following bundoc's SaltedPassword -> ClientKey -> StoredKey chain
// (PBKDF2 then HMAC then hash) without the surrounding SCRAM protocol.
func deriveKey(password, saltB64 string) (string, error) {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", err
	}
	saltedPassword := pbkdf2(sha256.New, []byte(password), salt, pbkdf2Iterations, 32)
	clientKey := hmacSum(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)
	return base64.StdEncoding.EncodeToString(storedKey), nil
}

func hmacSum(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.New()
	h.Write(data)
	return h.Sum(nil)
}

// pbkdf2 implements RFC 2898's PBKDF2 for an arbitrary HMAC hash
// constructor, mirroring bundoc/security/scram.go's PBKDF2.
func pbkdf2(newHash func() hash.Hash, password, salt []byte, iter, keyLen int) []byte {
	prf := hmac.New(newHash, password)
	hashLen := prf.Size()
	numBlocks := (keyLen + hashLen - 1) / hashLen

	dk := make([]byte, 0, numBlocks*hashLen)
	for block := 1; block <= numBlocks; block++ {
		prf.Reset()
		prf.Write(salt)
		prf.Write([]byte{byte(block >> 24), byte(block >> 16), byte(block >> 8), byte(block)})
		u := prf.Sum(nil)

		blockKey := make([]byte, len(u))
		copy(blockKey, u)

		for i := 2; i <= iter; i++ {
			prf.Reset()
			prf.Write(u)
			u = prf.Sum(nil)
			for k := range u {
				blockKey[k] ^= u[k]
			}
		}
		dk = append(dk, blockKey...)
	}
	return dk[:keyLen]
}
