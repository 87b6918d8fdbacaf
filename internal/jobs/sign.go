package jobs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DropSignature authenticates an HTTP-triggered drop-database call. The MAC
// binds chat, message and database name under the active credential, so an
// untrusted trigger can neither be forged nor replayed against a different
// database.
func DropSignature(token string, chatID, messageID int64, dbName string) string {
	mac := hmac.New(sha256.New, []byte(token))
	fmt.Fprintf(mac, "%d|%d|%s", chatID, messageID, dbName)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyDropSignature(token string, chatID, messageID int64, dbName, signature string) bool {
	expected := DropSignature(token, chatID, messageID, dbName)
	return hmac.Equal([]byte(expected), []byte(signature))
}
