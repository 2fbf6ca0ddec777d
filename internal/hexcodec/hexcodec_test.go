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

package hexcodec_test

import (
	"testing"

	"github.com/typstlabs/shellescapefs/internal/hexcodec"

	. "github.com/jacobsa/ogletest"
)

func TestHexCodec(t *testing.T) { RunTests(t) }

type HexCodecTest struct {
}

func init() { RegisterTestSuite(&HexCodecTest{}) }

func (t *HexCodecTest) DecodesEvenLengthInput() {
	ExpectThat(hexcodec.Decode([]byte("00a742")), DeepEquals([]byte{0x00, 0xa7, 0x42}))
}

func (t *HexCodecTest) DiscardsTrailingOddByte() {
	ExpectThat(hexcodec.Decode([]byte("00a742#")), DeepEquals([]byte{0x00, 0xa7, 0x42}))
}

func (t *HexCodecTest) EmptyInputYieldsEmptyOutput() {
	ExpectThat(hexcodec.Decode([]byte{}), DeepEquals([]byte{}))
}

func (t *HexCodecTest) RoundTripsThroughEncoding() {
	for _, b := range []byte{0x00, 0x01, 0x0f, 0x10, 0xab, 0xff} {
		encoded := []byte{hexDigit(b >> 4), hexDigit(b & 0xf)}
		ExpectThat(hexcodec.Decode(encoded), DeepEquals([]byte{b}), "byte=%v", b)
	}
}

func (t *HexCodecTest) RecognizesAllowedAlphabet() {
	for c := byte(0); c < 255; c++ {
		want := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		ExpectEq(want, hexcodec.IsHexByte(c), "c=%q", c)
	}
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}
