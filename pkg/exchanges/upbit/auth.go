package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"autotrade-core/pkg/exchanges/common"
)

// signToken builds the per-request JWT. When params are present the token
// carries a SHA512 hash of their encoded form.
func signToken(creds common.Credentials, params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": creds.AccessKey,
		"nonce":      uuid.NewString(),
	}
	if len(params) > 0 {
		sum := sha512.Sum512([]byte(params.Encode()))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(creds.SecretKey))
}
