/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api defines the public contracts between the shared-memory bridge
// and the components plugged into it.
package api

// Handler processes one request payload and produces the response payload.
// The bridge treats both as opaque byte blobs; by convention they are UTF-8
// text, a command name followed by space-separated argument tokens.
//
// A Handler is invoked synchronously, one request at a time. The request
// slice is only valid for the duration of the call; a handler that retains
// it must copy. Returning an error (or panicking) never crosses the process
// boundary: the responder converts it into a textual error-marker response.
type Handler interface {
	Handle(request []byte) ([]byte, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(request []byte) ([]byte, error)

// Handle calls f(request).
func (f HandlerFunc) Handle(request []byte) ([]byte, error) {
	return f(request)
}
