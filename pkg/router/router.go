// Package router maps request paths to upstream groups through a trie of
// path segments. Patterns support static segments, parameters (":name"),
// regex-constrained parameters ("{name:regex}"), and wildcards ("*": one
// segment mid-pattern, the whole remainder when trailing).
//
// When several patterns match a path, precedence is deterministic:
//
//  1. Longer static prefixes win.
//  2. At equal static-prefix length, static beats parameter beats wildcard,
//     position by position.
//  3. Regex-constrained parameters beat unconstrained parameters.
//  4. Longer patterns beat shorter patterns.
//  5. Earlier declaration order breaks remaining ties.
//
// Unmatched paths resolve to the forward's default group. A Router is
// immutable after Build; rule mutations build a new Router that the owner
// swaps in atomically.
package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule maps one path pattern to a target group.
type Rule struct {
	Path        string
	TargetGroup string
}

// Router resolves request paths to group names. Resolution is a pure
// function of the rule set and the path.
type Router struct {
	root         *node
	defaultGroup string
}

type node struct {
	static map[string]*node

	// regexEdges precede the plain parameter edge; within a node they are
	// tried in declaration order.
	regexEdges []*regexEdge
	param      *node
	wildcard   *node

	// target is set on terminal nodes; catchAll marks a trailing "*".
	target    string
	hasTarget bool
	catchAll  bool
}

type regexEdge struct {
	re    *regexp.Regexp
	child *node
}

func newNode() *node {
	return &node{static: make(map[string]*node)}
}

// New builds a router for one forward. Duplicate patterns and invalid
// regexes are rejected.
func New(defaultGroup string, rules []Rule) (*Router, error) {
	r := &Router{root: newNode(), defaultGroup: defaultGroup}
	for _, rule := range rules {
		if err := r.insert(rule); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultGroup returns the group used for unmatched paths.
func (r *Router) DefaultGroup() string { return r.defaultGroup }

func (r *Router) insert(rule Rule) error {
	segs := splitPath(rule.Path)
	if len(segs) == 0 {
		return fmt.Errorf("routing rule %q: empty path", rule.Path)
	}

	cur := r.root
	for i, seg := range segs {
		last := i == len(segs)-1
		switch {
		case seg == "*":
			if cur.wildcard == nil {
				cur.wildcard = newNode()
			}
			cur = cur.wildcard
			if last {
				cur.catchAll = true
			}

		case strings.HasPrefix(seg, ":"):
			if len(seg) == 1 {
				return fmt.Errorf("routing rule %q: parameter segment needs a name", rule.Path)
			}
			if cur.param == nil {
				cur.param = newNode()
			}
			cur = cur.param

		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			child, err := cur.regexChild(seg, rule.Path)
			if err != nil {
				return err
			}
			cur = child

		default:
			child, ok := cur.static[seg]
			if !ok {
				child = newNode()
				cur.static[seg] = child
			}
			cur = child
		}
	}

	if cur.hasTarget {
		return fmt.Errorf("duplicate routing path %q", rule.Path)
	}
	cur.target = rule.TargetGroup
	cur.hasTarget = true
	return nil
}

// regexChild returns the child node for a "{name:regex}" segment, creating
// it if needed. Identical expressions share a node.
func (n *node) regexChild(seg, path string) (*node, error) {
	body := seg[1 : len(seg)-1]
	idx := strings.Index(body, ":")
	if idx <= 0 || idx == len(body)-1 {
		return nil, fmt.Errorf("routing rule %q: segment %q must be {name:regex}", path, seg)
	}
	expr := body[idx+1:]

	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return nil, fmt.Errorf("routing rule %q: invalid regex %q: %w", path, expr, err)
	}

	for _, e := range n.regexEdges {
		if e.re.String() == re.String() {
			return e.child, nil
		}
	}
	edge := &regexEdge{re: re, child: newNode()}
	n.regexEdges = append(n.regexEdges, edge)
	return edge.child, nil
}

// Route resolves a request path to a target group name.
func (r *Router) Route(path string) string {
	segs := splitPath(path)
	if target, ok := r.root.match(segs); ok {
		return target
	}
	return r.defaultGroup
}

// match walks the trie depth-first trying edges in precedence order:
// static, regex parameter, parameter, wildcard. The first terminal reached
// is the winner; edge ordering makes the walk implement the documented
// precedence rules.
func (n *node) match(segs []string) (string, bool) {
	if len(segs) == 0 {
		if n.hasTarget {
			return n.target, true
		}
		return "", false
	}

	seg := segs[0]
	rest := segs[1:]

	if child, ok := n.static[seg]; ok {
		if target, ok := child.match(rest); ok {
			return target, true
		}
	}
	for _, e := range n.regexEdges {
		if e.re.MatchString(seg) {
			if target, ok := e.child.match(rest); ok {
				return target, true
			}
		}
	}
	if n.param != nil {
		if target, ok := n.param.match(rest); ok {
			return target, true
		}
	}
	if n.wildcard != nil {
		// A middle wildcard consumes one segment; prefer descending so
		// longer patterns beat a trailing catch-all at the same node.
		if target, ok := n.wildcard.match(rest); ok {
			return target, true
		}
		if n.wildcard.catchAll {
			return n.wildcard.target, true
		}
	}
	return "", false
}

// splitPath breaks a path into its non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
