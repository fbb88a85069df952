// Package rega emulates the script endpoint of the control unit's logic
// layer. It recognizes the handful of scripts client software sends and
// answers them from the seeded variables, programs, rooms, functions and
// channels.
package rega

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/state"
)

type ScriptKind int

const (
	ScriptUnknown ScriptKind = iota
	// ScriptDump returns a whole table.
	ScriptDump
	// ScriptSetState assigns a value to a system variable.
	ScriptSetState
)

func (k ScriptKind) String() string {
	switch k {
	case ScriptDump:
		return "dump"
	case ScriptSetState:
		return "set_state"
	default:
		return "unknown"
	}
}

// Script is a recognized first line of a script body.
type Script struct {
	Kind     ScriptKind
	Line     string
	Table    string
	ObjectID int64
	Value    any
}

var dumpMarkers = map[string]string{
	"!# devices.rega":   state.TableChannels,
	"!# variables.rega": state.TableVariables,
	"!# programs.rega":  state.TablePrograms,
	"!# rooms.rega":     state.TableRooms,
	"!# functions.rega": state.TableFunctions,
}

const (
	objectCall = "dom.GetObject("
	stateCall  = "State("
)

// ParseScript looks at the first line of body only. A dump marker must
// match the whole line; a State assignment may appear anywhere in it and
// its literal must be valid JSON.
func ParseScript(body string) Script {
	line, _, _ := strings.Cut(body, "\n")
	line = strings.TrimSuffix(line, "\r")

	if table, ok := dumpMarkers[line]; ok {
		return Script{Kind: ScriptDump, Line: line, Table: table}
	}

	digits, literal, ok := scanSetState(line)
	if !ok {
		return Script{Kind: ScriptUnknown, Line: line}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Script{Kind: ScriptUnknown, Line: line}
	}
	value, err := model.DecodeJSON([]byte(literal))
	if err != nil {
		return Script{Kind: ScriptUnknown, Line: line}
	}
	return Script{Kind: ScriptSetState, Line: line, ObjectID: id, Value: value}
}

// scanSetState finds the leftmost dom.GetObject(<digits>)<any char>State(<literal>)
// in line. The literal runs to the first closing parenthesis.
func scanSetState(line string) (digits, literal string, ok bool) {
	for offset := 0; offset < len(line); {
		i := strings.Index(line[offset:], objectCall)
		if i < 0 {
			return "", "", false
		}
		start := offset + i
		if digits, literal, ok := setStateAt(line[start+len(objectCall):]); ok {
			return digits, literal, true
		}
		offset = start + 1
	}
	return "", "", false
}

func setStateAt(rest string) (digits, literal string, ok bool) {
	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n == 0 || n == len(rest) || rest[n] != ')' {
		return "", "", false
	}
	digits, rest = rest[:n], rest[n+1:]

	_, size := utf8.DecodeRuneInString(rest)
	if size == 0 {
		return "", "", false
	}
	rest = rest[size:]
	if !strings.HasPrefix(rest, stateCall) {
		return "", "", false
	}
	rest = rest[len(stateCall):]

	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return "", "", false
	}
	return digits, rest[:end], true
}
