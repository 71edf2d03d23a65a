// Copyright 2011 Google Inc. All Rights Reserved.
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

package nin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FileReader abstracts reading an included or subninja'd file; the real
// implementation reads from disk, tests substitute an in-memory map.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// RealFileReader reads files from the real filesystem.
type RealFileReader struct{ Disk DiskInterface }

func (r RealFileReader) ReadFile(path string) ([]byte, error) {
	return r.Disk.ReadFile(path)
}

// ManifestParserOpts tunes error tolerance for manifest quirks some build
// generators emit.
type ManifestParserOpts struct {
	// ErrOnDupeEdge makes a second rule generating the same output an error
	// instead of a warning.
	ErrOnDupeEdge bool
	// ErrOnPhonyCycle makes a phony rule listing itself as its own input an
	// error instead of a warning (older CMake generates these).
	ErrOnPhonyCycle bool
	Quiet           bool
}

// ManifestParser parses the .ninja build-file grammar into a State: pools,
// rules, edges, top-level bindings, and default targets. include and
// subninja are both processed inline and recursively; subninja additionally
// opens a fresh child scope.
type ManifestParser struct {
	fr    FileReader
	opts  ManifestParserOpts
	lexer Lexer
	state *State
	env   *BindingEnv
}

// NewManifestParser creates a parser that populates state.
func NewManifestParser(state *State, fr FileReader, opts ManifestParserOpts) *ManifestParser {
	return &ManifestParser{
		fr:    fr,
		opts:  opts,
		state: state,
		env:   state.Bindings,
	}
}

// Load reads filename through fr and parses it.
func (m *ManifestParser) Load(filename string) error {
	contents, err := m.fr.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "loading %q", filename)
	}
	return m.Parse(filename, contents)
}

// Parse parses already-read manifest content attributed to filename.
func (m *ManifestParser) Parse(filename string, input []byte) error {
	m.lexer.Start(filename, string(input))

	for {
		token := m.lexer.ReadToken()
		var err error
		switch token {
		case POOL:
			err = m.parsePool()
		case BUILD:
			err = m.parseEdge()
		case RULE:
			err = m.parseRule()
		case DEFAULT:
			err = m.parseDefault()
		case IDENT:
			m.lexer.UnreadToken()
			err = m.parseIdent()
		case INCLUDE:
			err = m.parseInclude()
		case SUBNINJA:
			err = m.parseSubninja()
		case ERROR:
			err = m.lexErr("lexing error")
		case TEOF:
			return nil
		case NEWLINE:
		default:
			err = m.lexErr("unexpected " + TokenName(token))
		}
		if err != nil {
			return err
		}
	}
}

func (m *ManifestParser) lexErr(msg string) error {
	var s string
	m.lexer.Error(msg, &s)
	return errors.New(s)
}

func (m *ManifestParser) parsePool() error {
	var name string
	if !m.lexer.ReadIdent(&name) {
		return m.lexErr("expected pool name")
	}
	if err := m.expect(NEWLINE); err != nil {
		return err
	}
	if m.state.Pools[name] != nil {
		return m.lexErr(fmt.Sprintf("duplicate pool %q", name))
	}

	depth := -1
	for m.lexer.PeekToken(INDENT) {
		key, val, err := m.parseLet()
		if err != nil {
			return err
		}
		if key != "depth" {
			return m.lexErr(fmt.Sprintf("unexpected variable %q", key))
		}
		n, convErr := strconv.Atoi(val.Evaluate(m.env))
		if convErr != nil || n < 0 {
			return m.lexErr("invalid pool depth")
		}
		depth = n
	}
	if depth < 0 {
		return m.lexErr("expected 'depth =' line")
	}
	m.state.Pools[name] = NewPool(name, depth)
	return nil
}

func (m *ManifestParser) parseRule() error {
	var name string
	if !m.lexer.ReadIdent(&name) {
		return m.lexErr("expected rule name")
	}
	if err := m.expect(NEWLINE); err != nil {
		return err
	}
	if m.env.LookupRuleCurrentScope(name) != nil {
		return m.lexErr(fmt.Sprintf("duplicate rule %q", name))
	}

	rule := NewRule(name)
	for m.lexer.PeekToken(INDENT) {
		key, val, err := m.parseLet()
		if err != nil {
			return err
		}
		if !IsReservedBinding(key) {
			return m.lexErr(fmt.Sprintf("unexpected variable %q", key))
		}
		v := val
		rule.AddBinding(key, &v)
	}

	rsp, hasRsp := rule.Bindings["rspfile"]
	rspContent, hasRspContent := rule.Bindings["rspfile_content"]
	if hasRsp != hasRspContent || (hasRsp && rsp.Empty() != rspContent.Empty()) {
		return m.lexErr("rspfile and rspfile_content need to be both specified")
	}
	if cmd, ok := rule.Bindings["command"]; !ok || cmd.Empty() {
		return m.lexErr("expected 'command =' line")
	}
	m.env.AddRule(rule)
	return nil
}

func (m *ManifestParser) parseDefault() error {
	var eval EvalString
	var errStr string
	if !m.lexer.ReadPath(&eval, &errStr) {
		return errors.New(errStr)
	}
	if eval.Empty() {
		return m.lexErr("expected target name")
	}
	for {
		path := eval.Evaluate(m.env)
		if path == "" {
			return m.lexErr("empty path")
		}
		canon, _ := CanonicalizePath(path)
		if err := m.state.AddDefault(canon); err != nil {
			return m.lexErr(err.Error())
		}

		eval = EvalString{}
		if !m.lexer.ReadPath(&eval, &errStr) {
			return errors.New(errStr)
		}
		if eval.Empty() {
			break
		}
	}
	return m.expect(NEWLINE)
}

func (m *ManifestParser) parseIdent() error {
	name, val, err := m.parseLet()
	if err != nil {
		return err
	}
	value := val.Evaluate(m.env)
	if name == "ninja_required_version" {
		if err := checkNinjaVersion(value); err != nil {
			return err
		}
	}
	m.env.AddBinding(name, value)
	return nil
}

func (m *ManifestParser) parseEdge() error {
	var outs []EvalString
	for {
		var ev EvalString
		var errStr string
		if !m.lexer.ReadPath(&ev, &errStr) {
			return errors.New(errStr)
		}
		if ev.Empty() {
			break
		}
		outs = append(outs, ev)
	}

	implicitOuts := 0
	if m.lexer.PeekToken(PIPE) {
		for {
			var ev EvalString
			var errStr string
			if !m.lexer.ReadPath(&ev, &errStr) {
				return errors.New(errStr)
			}
			if ev.Empty() {
				break
			}
			outs = append(outs, ev)
			implicitOuts++
		}
	}
	if len(outs) == 0 {
		return m.lexErr("expected path")
	}
	if err := m.expect(COLON); err != nil {
		return err
	}

	var ruleName string
	if !m.lexer.ReadIdent(&ruleName) {
		return m.lexErr("expected build command name")
	}
	rule := m.env.LookupRule(ruleName)
	if rule == nil {
		return m.lexErr(fmt.Sprintf("unknown build rule %q", ruleName))
	}

	var ins []EvalString
	for {
		var ev EvalString
		var errStr string
		if !m.lexer.ReadPath(&ev, &errStr) {
			return errors.New(errStr)
		}
		if ev.Empty() {
			break
		}
		ins = append(ins, ev)
	}
	implicit := 0
	if m.lexer.PeekToken(PIPE) {
		for {
			var ev EvalString
			var errStr string
			if !m.lexer.ReadPath(&ev, &errStr) {
				return errors.New(errStr)
			}
			if ev.Empty() {
				break
			}
			ins = append(ins, ev)
			implicit++
		}
	}
	orderOnly := 0
	if m.lexer.PeekToken(PIPE2) {
		for {
			var ev EvalString
			var errStr string
			if !m.lexer.ReadPath(&ev, &errStr) {
				return errors.New(errStr)
			}
			if ev.Empty() {
				break
			}
			ins = append(ins, ev)
			orderOnly++
		}
	}
	if err := m.expect(NEWLINE); err != nil {
		return err
	}

	hasIndent := m.lexer.PeekToken(INDENT)
	env := m.env
	if hasIndent {
		env = NewBindingEnv(m.env)
	}
	for hasIndent {
		key, val, err := m.parseLet()
		if err != nil {
			return err
		}
		env.AddBinding(key, val.Evaluate(m.env))
		hasIndent = m.lexer.PeekToken(INDENT)
	}

	edge := m.state.AddEdge(rule)
	edge.Env = env

	if poolName := edge.GetBinding("pool"); poolName != "" {
		pool := m.state.Pools[poolName]
		if pool == nil {
			return m.lexErr(fmt.Sprintf("unknown pool name %q", poolName))
		}
		edge.Pool = pool
	}

	outPaths := make([]string, 0, len(outs))
	outBits := make([]uint64, 0, len(outs))
	for _, o := range outs {
		path := o.Evaluate(env)
		if path == "" {
			return m.lexErr("empty path")
		}
		canon, bits := CanonicalizePath(path)
		outPaths = append(outPaths, canon)
		outBits = append(outBits, bits)
	}
	for i, path := range outPaths {
		if err := m.state.AddOut(edge, path, outBits[i]); err != nil {
			if m.opts.ErrOnDupeEdge {
				return m.lexErr(err.Error())
			}
			if !m.opts.Quiet {
				warningf("multiple rules generate %s. builds involving this target will not be correct; continuing anyway", path)
			}
			if len(outPaths)-i <= implicitOuts {
				implicitOuts--
			}
		}
	}
	if len(edge.Outputs) == 0 {
		m.state.Edges = m.state.Edges[:len(m.state.Edges)-1]
		return nil
	}

	for _, in := range ins {
		path := in.Evaluate(env)
		if path == "" {
			return m.lexErr("empty path")
		}
		canon, bits := CanonicalizePath(path)
		m.state.AddIn(edge, canon, bits)
	}
	edge.ExplicitDeps = len(ins) - implicit - orderOnly
	edge.ImplicitDeps = implicit

	if !m.opts.ErrOnPhonyCycle && edge.IsPhony() && len(edge.Inputs) > 0 {
		out := edge.Outputs[0]
		for i, n := range edge.Inputs {
			if n == out {
				if i < edge.ExplicitDeps {
					edge.ExplicitDeps--
				} else if i < edge.ExplicitDeps+edge.ImplicitDeps {
					edge.ImplicitDeps--
				}
				edge.Inputs = append(edge.Inputs[:i], edge.Inputs[i+1:]...)
				if !m.opts.Quiet {
					warningf("phony target '%s' names itself as an input; ignoring [-w phonycycle=warn]", out.Path)
				}
				break
			}
		}
	}
	return nil
}

func (m *ManifestParser) parseInclude() error {
	var eval EvalString
	var errStr string
	if !m.lexer.ReadPath(&eval, &errStr) {
		return errors.New(errStr)
	}
	if err := m.expect(NEWLINE); err != nil {
		return err
	}
	path := eval.Evaluate(m.env)
	input, err := m.fr.ReadFile(path)
	if err != nil {
		return m.lexErr(fmt.Sprintf("loading %q: %s", path, err))
	}
	sub := &ManifestParser{fr: m.fr, opts: m.opts, state: m.state, env: m.env}
	return sub.Parse(path, input)
}

func (m *ManifestParser) parseSubninja() error {
	var eval EvalString
	var errStr string
	if !m.lexer.ReadPath(&eval, &errStr) {
		return errors.New(errStr)
	}
	if err := m.expect(NEWLINE); err != nil {
		return err
	}
	filename := eval.Evaluate(m.env)
	input, err := m.fr.ReadFile(filename)
	if err != nil {
		return m.lexErr(fmt.Sprintf("loading %q: %s", filename, err))
	}
	sub := &ManifestParser{fr: m.fr, opts: m.opts, state: m.state, env: NewBindingEnv(m.env)}
	return sub.Parse(filename, input)
}

func (m *ManifestParser) parseLet() (string, EvalString, error) {
	var key string
	if !m.lexer.ReadIdent(&key) {
		return "", EvalString{}, m.lexErr("expected variable name")
	}
	if err := m.expect(EQUALS); err != nil {
		return "", EvalString{}, err
	}
	var eval EvalString
	var errStr string
	if !m.lexer.ReadVarValue(&eval, &errStr) {
		return "", EvalString{}, errors.New(errStr)
	}
	return key, eval, nil
}

func (m *ManifestParser) expect(expected Token) error {
	if token := m.lexer.ReadToken(); token != expected {
		msg := "expected " + TokenName(expected) + ", got " + TokenName(token) + TokenErrorHint(expected)
		return m.lexErr(msg)
	}
	return nil
}
