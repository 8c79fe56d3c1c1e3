package auth

import (
	"fmt"
	"strings"
)

// BlockPolicy selects which credential states the interceptor admits. It is
// fixed when an Interceptor is built.
type BlockPolicy int

const (
	// BlockUnauthenticated admits only Authorised requests.
	BlockUnauthenticated BlockPolicy = iota
	// AllowMissing admits Authorised and NoToken; InvalidToken is rejected.
	AllowMissing
	// AllowAll admits every state, leaving decisions to resolvers.
	AllowAll
)

// Admits reports whether a request in state s is forwarded under p.
func (p BlockPolicy) Admits(s State) bool {
	switch s.Status() {
	case StatusAuthorised:
		return true
	case StatusInvalidToken:
		return p == AllowAll
	case StatusNoToken:
		return p == AllowAll || p == AllowMissing
	default:
		return false
	}
}

func (p BlockPolicy) String() string {
	switch p {
	case AllowAll:
		return "allow_all"
	case BlockUnauthenticated:
		return "block_unauthenticated"
	case AllowMissing:
		return "allow_missing"
	default:
		return fmt.Sprintf("BlockPolicy(%d)", int(p))
	}
}

// ParseBlockPolicy accepts the String forms (case-insensitive, '-' or '_').
func ParseBlockPolicy(s string) (BlockPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "allow_all":
		return AllowAll, nil
	case "block_unauthenticated", "":
		return BlockUnauthenticated, nil
	case "allow_missing":
		return AllowMissing, nil
	default:
		return 0, fmt.Errorf("unknown block policy %q", s)
	}
}

// Decode implements envdecode.Decoder.
func (p *BlockPolicy) Decode(s string) error {
	v, err := ParseBlockPolicy(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Set and Type make *BlockPolicy usable as a pflag.Value.
func (p *BlockPolicy) Set(s string) error { return p.Decode(s) }

func (p *BlockPolicy) Type() string { return "policy" }
