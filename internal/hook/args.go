package hook

import (
	"fmt"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/challenge"
)

// ParseChallenges groups challenge arguments into (domain, token filename,
// token value) triples. With HOOK_CHAIN=yes the ACME client passes several
// triples in one call.
func ParseChallenges(args []string) ([]challenge.Challenge, error) {
	if len(args) == 0 || len(args)%3 != 0 {
		return nil, fmt.Errorf("expected DOMAIN TOKEN_FILENAME TOKEN_VALUE triples, got %d arguments", len(args))
	}
	challenges := make([]challenge.Challenge, 0, len(args)/3)
	for i := 0; i < len(args); i += 3 {
		c := challenge.Challenge{Domain: args[i], TokenFilename: args[i+1], Value: args[i+2]}
		if c.Domain == "" || c.Value == "" {
			return nil, fmt.Errorf("challenge %d: domain and token value must not be empty", i/3+1)
		}
		challenges = append(challenges, c)
	}
	return challenges, nil
}

// arg returns args[i], or "" when the client passed fewer arguments.
func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
