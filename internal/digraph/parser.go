package digraph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
)

// dependency is one parsed arrow: a trigger expression enabling (or, for
// suicide, removing) a downstream task at the recurrence point.
type dependency struct {
	task    string
	trig    *trigger
	suicide bool
}

type tokenKind int

const (
	tokAtom tokenKind = iota
	tokAnd
	tokOr
	tokBang
	tokLParen
	tokRParen
	tokArrow
)

type token struct {
	kind tokenKind
	text string
}

var atomRe = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\[[^\]]*\])?(:[A-Za-z0-9_\-]+)?`)

func tokenize(line string) ([]token, error) {
	var toks []token
	rest := line
	for {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return toks, nil
		}
		switch {
		case strings.HasPrefix(rest, "=>"):
			toks = append(toks, token{kind: tokArrow})
			rest = rest[2:]
		case rest[0] == '&':
			toks = append(toks, token{kind: tokAnd})
			rest = rest[1:]
		case rest[0] == '|':
			toks = append(toks, token{kind: tokOr})
			rest = rest[1:]
		case rest[0] == '!':
			toks = append(toks, token{kind: tokBang})
			rest = rest[1:]
		case rest[0] == '(':
			toks = append(toks, token{kind: tokLParen})
			rest = rest[1:]
		case rest[0] == ')':
			toks = append(toks, token{kind: tokRParen})
			rest = rest[1:]
		default:
			m := atomRe.FindString(rest)
			if m == "" {
				return nil, configErrorf("bad graph syntax near %q in %q", rest, line)
			}
			toks = append(toks, token{kind: tokAtom, text: m})
			rest = rest[len(m):]
		}
	}
}

// atom is a single task reference in a graph expression.
type atom struct {
	name    string
	offset  cycling.Interval
	qual    string
	suicide bool
}

func parseAtom(text string, mode cycling.Mode) (atom, error) {
	a := atom{}
	if i := strings.IndexByte(text, ':'); i >= 0 {
		a.qual = text[i+1:]
		text = text[:i]
	}
	if i := strings.IndexByte(text, '['); i >= 0 {
		if !strings.HasSuffix(text, "]") {
			return atom{}, configErrorf("bad offset in %q", text)
		}
		spec := strings.TrimPrefix(text[i+1:len(text)-1], "+")
		offset, err := cycling.ParseInterval(spec, mode)
		if err != nil {
			return atom{}, configErrorf("bad offset in %q: %v", text, err)
		}
		a.offset = offset
		text = text[:i]
	}
	if text == "" {
		return atom{}, configErrorf("missing task name")
	}
	a.name = text
	return a, nil
}

// exprParser parses one arrow segment: a boolean expression over atoms with
// "&" binding tighter than "|".
type exprParser struct {
	toks []token
	pos  int
	mode cycling.Mode
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

// expr node: either a nested expression or a single atom. RHS segments
// reject nesting and qualifiers later; LHS segments convert to triggers.
type exprNode struct {
	op          Op
	left, right *exprNode
	atom        atom
}

func (p *exprParser) parseExpr() (*exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &exprNode{op: OpOr, left: left, right: right}
	}
}

func (p *exprParser) parseAnd() (*exprNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &exprNode{op: OpAnd, left: left, right: right}
	}
}

func (p *exprParser) parsePrimary() (*exprNode, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, configErrorf("unexpected end of graph expression")
	}
	switch tok.kind {
	case tokLParen:
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, configErrorf("missing closing parenthesis in graph expression")
		}
		p.pos++
		return inner, nil
	case tokBang:
		p.pos++
		next, ok := p.peek()
		if !ok || next.kind != tokAtom {
			return nil, configErrorf("\"!\" must precede a task name")
		}
		p.pos++
		a, err := parseAtom(next.text, p.mode)
		if err != nil {
			return nil, err
		}
		a.suicide = true
		return &exprNode{op: OpLeaf, atom: a}, nil
	case tokAtom:
		p.pos++
		a, err := parseAtom(tok.text, p.mode)
		if err != nil {
			return nil, err
		}
		return &exprNode{op: OpLeaf, atom: a}, nil
	default:
		return nil, configErrorf("unexpected token in graph expression")
	}
}

func parseSegment(toks []token, mode cycling.Mode) (*exprNode, error) {
	p := &exprParser{toks: toks, mode: mode}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(toks) {
		return nil, configErrorf("trailing tokens in graph expression")
	}
	return node, nil
}

// splitArrows splits a token stream into arrow-separated segments.
func splitArrows(toks []token) [][]token {
	var segs [][]token
	cur := []token{}
	for _, t := range toks {
		if t.kind == tokArrow {
			segs = append(segs, cur)
			cur = []token{}
			continue
		}
		cur = append(cur, t)
	}
	return append(segs, cur)
}

// familyTrigger maps a family qualifier to a trigger over its members.
func familyTrigger(members []string, qual string, offset cycling.Interval) (*trigger, error) {
	combine := func(join func(l, r *trigger) *trigger, label string) *trigger {
		var t *trigger
		for _, m := range members {
			lf := leaf(output{task: m, label: label, offset: offset})
			if t == nil {
				t = lf
			} else {
				t = join(t, lf)
			}
		}
		return t
	}
	switch qual {
	case "", "succeed-all":
		return combine(and, OutputSucceeded), nil
	case "succeed-any":
		return combine(or, OutputSucceeded), nil
	case "fail-all":
		return combine(and, OutputFailed), nil
	case "fail-any":
		return combine(or, OutputFailed), nil
	case "start-all":
		return combine(and, OutputStarted), nil
	case "start-any":
		return combine(or, OutputStarted), nil
	default:
		return nil, configErrorf("unknown family qualifier %q", qual)
	}
}

// toTrigger converts an LHS expression to a trigger, expanding family
// references to their member sets.
func toTrigger(n *exprNode, families map[string][]string) (*trigger, error) {
	switch n.op {
	case OpLeaf:
		if n.atom.suicide {
			return nil, configErrorf("\"!\" is only valid on the right of \"=>\"")
		}
		if members, ok := families[n.atom.name]; ok {
			return familyTrigger(members, n.atom.qual, n.atom.offset)
		}
		return leaf(output{
			task:   n.atom.name,
			label:  canonicalOutput(n.atom.qual),
			offset: n.atom.offset,
		}), nil
	default:
		left, err := toTrigger(n.left, families)
		if err != nil {
			return nil, err
		}
		right, err := toTrigger(n.right, families)
		if err != nil {
			return nil, err
		}
		return &trigger{op: n.op, left: left, right: right}, nil
	}
}

// toTargets flattens an RHS expression into downstream targets. Targets can
// only be AND-combined, carry no qualifiers or offsets, and expand family
// references per member.
func toTargets(n *exprNode, families map[string][]string) ([]atom, error) {
	switch n.op {
	case OpLeaf:
		a := n.atom
		if a.qual != "" {
			return nil, configErrorf("output qualifier not valid on the right of \"=>\": %q", a.name+":"+a.qual)
		}
		if !a.offset.IsZero() {
			return nil, configErrorf("offset not valid on the right of \"=>\": %q", a.name)
		}
		if members, ok := families[a.name]; ok {
			out := make([]atom, 0, len(members))
			for _, m := range members {
				out = append(out, atom{name: m, suicide: a.suicide})
			}
			return out, nil
		}
		return []atom{a}, nil
	case OpAnd:
		left, err := toTargets(n.left, families)
		if err != nil {
			return nil, err
		}
		right, err := toTargets(n.right, families)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	default:
		return nil, configErrorf("\"|\" not valid on the right of \"=>\"")
	}
}

func hasSuicide(n *exprNode) bool {
	if n == nil {
		return false
	}
	if n.op == OpLeaf {
		return n.atom.suicide
	}
	return hasSuicide(n.left) || hasSuicide(n.right)
}

// parseLine parses one concrete (parameter-expanded) graph line into its
// dependencies. A chain "a => b => c" yields pairwise dependencies.
func parseLine(line string, mode cycling.Mode, families map[string][]string) ([]dependency, []string, error) {
	toks, err := tokenize(line)
	if err != nil {
		return nil, nil, err
	}
	segs := splitArrows(toks)

	var deps []dependency
	var tasks []string

	collect := func(n *exprNode) {
		var walk func(n *exprNode)
		walk = func(n *exprNode) {
			if n == nil {
				return
			}
			if n.op == OpLeaf {
				if members, ok := families[n.atom.name]; ok {
					tasks = append(tasks, members...)
				} else {
					tasks = append(tasks, n.atom.name)
				}
				return
			}
			walk(n.left)
			walk(n.right)
		}
		walk(n)
	}

	if len(segs) == 1 {
		// A bare expression declares tasks on the sequence with no
		// dependencies between them.
		node, err := parseSegment(segs[0], mode)
		if err != nil {
			return nil, nil, err
		}
		if hasSuicide(node) {
			return nil, nil, configErrorf("\"!\" is only valid on the right of \"=>\"")
		}
		collect(node)
		return nil, tasks, nil
	}

	nodes := make([]*exprNode, len(segs))
	for i, seg := range segs {
		if len(seg) == 0 {
			return nil, nil, configErrorf("empty segment in graph line %q", line)
		}
		nodes[i], err = parseSegment(seg, mode)
		if err != nil {
			return nil, nil, err
		}
		collect(nodes[i])
	}

	for i := 0; i+1 < len(nodes); i++ {
		lhs, rhs := nodes[i], nodes[i+1]
		if hasSuicide(lhs) {
			return nil, nil, configErrorf("suicide target cannot trigger further tasks in %q", line)
		}
		trig, err := toTrigger(lhs, families)
		if err != nil {
			return nil, nil, err
		}
		targets, err := toTargets(rhs, families)
		if err != nil {
			return nil, nil, err
		}
		for _, target := range targets {
			deps = append(deps, dependency{task: target.name, trig: trig, suicide: target.suicide})
		}
	}
	return deps, tasks, nil
}

var paramRefRe = regexp.MustCompile(`([A-Za-z0-9_\-]+)<([A-Za-z0-9_\-]+)(=([A-Za-z0-9_\-]+))?>`)

// paramName composes the concrete task name for a parameter binding.
func paramName(base, param, value string) string {
	return fmt.Sprintf("%s_%s%s", base, param, value)
}

// expandParams expands parameterized task references in a graph line over
// the cross product of declared parameter values. Pinned references
// (name<p=v>) substitute directly; free references (name<p>) multiply the
// line.
func expandParams(line string, params map[string][]string) ([]string, error) {
	refs := paramRefRe.FindAllStringSubmatch(line, -1)
	if len(refs) == 0 {
		return []string{line}, nil
	}

	freeSet := map[string]bool{}
	for _, ref := range refs {
		param, pinned := ref[2], ref[3] != ""
		values, ok := params[param]
		if !ok {
			return nil, configErrorf("undeclared parameter %q in %q", param, line)
		}
		if pinned {
			found := false
			for _, v := range values {
				if v == ref[4] {
					found = true
					break
				}
			}
			if !found {
				return nil, configErrorf("parameter %s has no value %q in %q", param, ref[4], line)
			}
			continue
		}
		freeSet[param] = true
	}

	free := make([]string, 0, len(freeSet))
	for p := range freeSet {
		free = append(free, p)
	}
	sort.Strings(free)

	substitute := func(binding map[string]string) string {
		return paramRefRe.ReplaceAllStringFunc(line, func(m string) string {
			sub := paramRefRe.FindStringSubmatch(m)
			base, param := sub[1], sub[2]
			if sub[3] != "" {
				return paramName(base, param, sub[4])
			}
			return paramName(base, param, binding[param])
		})
	}

	lines := []string{}
	var rec func(i int, binding map[string]string)
	rec = func(i int, binding map[string]string) {
		if i == len(free) {
			lines = append(lines, substitute(binding))
			return
		}
		for _, v := range params[free[i]] {
			binding[free[i]] = v
			rec(i+1, binding)
		}
	}
	rec(0, map[string]string{})
	return lines, nil
}
