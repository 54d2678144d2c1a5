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

// Package dispatch implements the tokenized-command convention carried over
// the bridge: a request payload is a command name followed by
// space-separated argument tokens, and the response is whatever the command
// function returns. The bridge itself treats both as opaque bytes; this
// package is the collaborator that gives them meaning.
package dispatch

import (
	"fmt"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Func executes one command. args excludes the command name. The returned
// string travels back verbatim as the response payload; a returned error is
// converted to an error-marker response by the responder.
type Func func(args []string) (string, error)

// Registry maps command names to their implementations. Registration may
// happen concurrently with dispatching, so the table is a concurrent map.
type Registry struct {
	cmds cmap.ConcurrentMap[string, Func]
}

// NewRegistry returns a registry preloaded with the builtin commands:
//
//	echo <tokens...> -> the tokens joined by spaces
//	ping             -> "pong"
func NewRegistry() *Registry {
	r := &Registry{cmds: cmap.New[Func]()}
	r.Register("echo", func(args []string) (string, error) {
		return strings.Join(args, " "), nil
	})
	r.Register("ping", func(args []string) (string, error) {
		return "pong", nil
	})
	return r
}

// Register adds or replaces a command.
func (r *Registry) Register(name string, fn Func) {
	r.cmds.Set(name, fn)
}

// Commands returns the registered command names.
func (r *Registry) Commands() []string {
	return r.cmds.Keys()
}

// Handle implements api.Handler: it tokenizes the request, looks up the
// command and runs it. An unknown command is answered in the wire format the
// hardware-API side of the bridge has always used, as an ordinary response
// rather than an error.
func (r *Registry) Handle(request []byte) ([]byte, error) {
	tokens := strings.Fields(string(request))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	fn, ok := r.cmds.Get(tokens[0])
	if !ok {
		return []byte("Unknown command :" + tokens[0]), nil
	}
	out, err := fn(tokens[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tokens[0], err)
	}
	return []byte(out), nil
}
