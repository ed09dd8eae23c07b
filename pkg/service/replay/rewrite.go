package replay

import (
	"strings"

	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/pkg/service/decode"
)

// Rewriter adapts recorded UPDATE lines to the replay environment. Rules run
// in order, each over the output of the previous one.
type Rewriter struct {
	rules []config.Rewrite
}

func NewRewriter(rules []config.Rewrite) *Rewriter {
	kept := make([]config.Rewrite, 0, len(rules))
	for _, r := range rules {
		if r.From != "" {
			kept = append(kept, r)
		}
	}
	return &Rewriter{rules: kept}
}

// Apply rewrites UPDATE lines and returns every other line untouched.
func (r *Rewriter) Apply(line string) string {
	if !decode.IsUpdate(line) {
		return line
	}
	for _, rule := range r.rules {
		line = strings.ReplaceAll(line, rule.From, rule.To)
	}
	return line
}
