// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parse

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the lowercase hex SHA-256 of b. Used as the content
// dedup key for payloads without an external message id.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HmacSha256Hex computes the hex HMAC-SHA256 signature of body under secret.
func HmacSha256Hex(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// FixedTimeEqualsHex compares two hex-encoded digests in constant time.
// Malformed hex never matches.
func FixedTimeEqualsHex(aHex, bHex string) bool {
	a, err := hex.DecodeString(aHex)
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(bHex)
	if err != nil {
		return false
	}
	return hmac.Equal(a, b)
}
