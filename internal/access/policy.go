// Package access turns capability tokens into access decisions.
package access

import (
	"fmt"
	"strings"
)

// Action is an operation a node requests on its counterpart.
type Action string

const (
	Read     Action = "READ"
	Write    Action = "WRITE"
	Execute  Action = "EXECUTE"
	Transmit Action = "TRANSMIT"
)

// ParseAction parses an action name case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case Read, Write, Execute, Transmit:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q (want READ, WRITE, EXECUTE or TRANSMIT)", s)
}

// Policy is a parsed "FLOW:PERM1,PERM2" token policy.
type Policy struct {
	Flow        string   `json:"flow"`
	Permissions []string `json:"permissions"`
}

// ParsePolicy parses a policy string. The flow is the text before the first
// colon; permissions are comma-separated after it.
func ParsePolicy(s string) (Policy, error) {
	flow, perms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Policy{}, fmt.Errorf("invalid policy format %q", s)
	}
	p := Policy{Flow: strings.TrimSpace(flow)}
	for _, perm := range strings.Split(perms, ",") {
		perm = strings.TrimSpace(perm)
		if perm != "" {
			p.Permissions = append(p.Permissions, strings.ToUpper(perm))
		}
	}
	return p, nil
}

// Allows reports whether the policy grants action.
func (p Policy) Allows(action Action) bool {
	for _, perm := range p.Permissions {
		if perm == string(action) {
			return true
		}
	}
	return false
}

func (p Policy) String() string {
	return p.Flow + ":" + strings.Join(p.Permissions, ",")
}
