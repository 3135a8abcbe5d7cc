package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"trade_engine/internal/models"
)

// nextNonce строго возрастает для одного клиента, даже если часы стоят.
func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	n := time.Now().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// sign = hex(HMAC-SHA256(secret, nonce + METHOD + path + body))
func sign(secret string, nonce int64, method, path string, body []byte) string {
	msg := strconv.FormatInt(nonce, 10) + strings.ToUpper(method) + path + string(body)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

func authorization(creds models.Credentials, nonce int64, method, path string, body []byte) string {
	return "Bitso " + creds.Key + ":" + strconv.FormatInt(nonce, 10) + ":" + sign(creds.Secret, nonce, method, path, body)
}
