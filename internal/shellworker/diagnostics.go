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

package shellworker

import "encoding/json"

// diagnosticsResult is the "result" sub-object of the diagnostics document
// described in spec.md §6.
type diagnosticsResult struct {
	Ran       bool   `json:"ran"`
	ErrorCode *int   `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

type diagnosticsDocument struct {
	Command string            `json:"command"`
	Result  diagnosticsResult `json:"result"`
}

// SummarizeJSON builds the UTF-8 JSON diagnostics document for a finished
// execution, per spec.md §6. Command bytes that are not valid UTF-8 are
// replaced lossily, matching the reference implementation's
// String::from_utf8_lossy.
func SummarizeJSON(e Execution) ([]byte, error) {
	doc := diagnosticsDocument{
		Command: lossyUTF8(e.Command),
	}

	switch r := e.Result.(type) {
	case Ran:
		code := r.ExitCode
		doc.Result = diagnosticsResult{Ran: true, ErrorCode: &code}
	case FailedToSpawn:
		doc.Result = diagnosticsResult{Ran: false, Error: "Failed to spawn", Message: r.Err.Error()}
	case FailedToWait:
		doc.Result = diagnosticsResult{Ran: false, Error: "Failed to wait", Message: r.Err.Error()}
	}

	return json.Marshal(doc)
}

// lossyUTF8 mirrors Rust's String::from_utf8_lossy: invalid byte sequences
// are replaced with U+FFFD rather than rejected outright.
func lossyUTF8(b []byte) string {
	return string([]rune(string(b)))
}
