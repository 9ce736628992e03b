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
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// UnixTimestamp reads a unix-seconds value that the bridge sends either as
// a JSON number or a numeric string. All wire timestamps go through this
// one conversion; an absent or unreadable value falls back to now.
func UnixTimestamp(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	return time.Now().Unix()
}

// unixOrZero is UnixTimestamp without the now-fallback, for optional fields
// like mediaKeyTimestamp and fileLength where absence means absence.
func unixOrZero(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
