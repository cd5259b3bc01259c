package badge

import (
	"fmt"

	"laxhq-progression/pkg/celengine"

	"github.com/google/cel-go/cel"
)

type CompiledBadge struct {
	Key     string
	Badge   Badge
	Program cel.Program
}

func (b *CompiledBadge) evaluate(attrs map[string]interface{}) (bool, error) {
	if b.Program == nil {
		return false, fmt.Errorf("compiled program is nil for badge %s", b.Key)
	}

	matched, err := celengine.EvaluateProgram(b.Program, attrs)
	if err != nil {
		return false, fmt.Errorf("eval failed for badge %s: %w", b.Key, err)
	}

	return matched, nil
}

func compileBadges(env *cel.Env, badges []*Badge) ([]*CompiledBadge, error) {
	compiled := make([]*CompiledBadge, 0, len(badges))
	for _, b := range badges {
		program, err := celengine.Compile(env, b.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile badge %s: %w", b.Key, err)
		}

		compiled = append(compiled, &CompiledBadge{
			Key:     b.Key,
			Badge:   *b,
			Program: program,
		})
	}

	return compiled, nil
}
