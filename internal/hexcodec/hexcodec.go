// Copyright 2026 The shellescapefs Authors
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

// Package hexcodec decodes the lowercase-hex payloads that clients smuggle
// through file path lookups.
package hexcodec

// Decode treats hex as consecutive non-overlapping two-byte ASCII hex digit
// pairs and returns one output byte per pair. A trailing odd byte is
// discarded. Each digit of a pair may be '0'-'9', 'a'-'f' or 'A'-'F'; Decode
// panics on any other byte rather than silently producing garbage. The
// filesystem façade's lookup only lets '0'-'9' and 'a'-'f' through.
func Decode(hex []byte) []byte {
	n := len(hex) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = nibble(hex[2*i])<<4 | nibble(hex[2*i+1])
	}
	return out
}

func nibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		panic("hexcodec: invalid hex character")
	}
}

// IsHexByte reports whether c is a valid digit of the lowercase hex alphabet
// the façade accepts in append-file names ('0'-'9', 'a'-'f'). Uppercase is
// deliberately excluded here even though Decode accepts it, because the
// façade's lookup only ever allows lowercase names through.
func IsHexByte(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
