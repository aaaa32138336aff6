// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lineproto

import "strings"

// Field is one `key=value` or bare-flag (`FORCE`) component of a command
// line.
type Field struct {
	Key      string
	Value    string
	HasValue bool
}

// Command is a parsed `<VERB>[,<key>=<value>]*` line.
type Command struct {
	Verb   string
	Fields []Field
}

// Get returns the value of the first field named key.
func (c Command) Get(key string) (string, bool) {
	for _, f := range c.Fields {
		if f.Key == key {
			return f.Value, f.HasValue
		}
	}
	return "", false
}

// Has reports whether a bare flag (e.g. FORCE in "STOP,FORCE") or a keyed
// field named key is present.
func (c Command) Has(key string) bool {
	for _, f := range c.Fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// ParseCommand parses one already-framed line (CRLF already stripped) into
// a Command. Verb identity is an exact match terminated by end-of-line,
// ',', or a space; everything after a comma is a field.
func ParseCommand(line []byte) Command {
	s := string(line)
	verb := s
	rest := ""
	if idx := strings.IndexAny(s, ", "); idx >= 0 {
		verb = s[:idx]
		rest = s[idx+1:]
	}
	cmd := Command{Verb: verb}
	if rest == "" {
		return cmd
	}
	for _, part := range strings.Split(rest, ",") {
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			cmd.Fields = append(cmd.Fields, Field{Key: part[:eq], Value: part[eq+1:], HasValue: true})
		} else {
			cmd.Fields = append(cmd.Fields, Field{Key: part})
		}
	}
	return cmd
}
