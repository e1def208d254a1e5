package output

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// messageFilter wraps a compiled CEL program evaluated per message before
// delivery. When disabled, Match always returns true.
type messageFilter struct {
	prog    cel.Program
	enabled bool
}

func newMessageFilter(expr string) (messageFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return messageFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.IntType),
		cel.Variable("routing_key", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return messageFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return messageFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return messageFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return messageFilter{}, err
	}
	return messageFilter{prog: prog, enabled: true}, nil
}

// Match evaluates the expression against a message. Evaluation errors
// exclude the message.
func (f messageFilter) Match(id int64, routingKey string, tsMs int64, payload []byte) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"id":          id,
		"routing_key": routingKey,
		"ts_ms":       tsMs,
		"size":        int64(len(payload)),
		"text":        string(payload),
		"json":        jsonObj,
		"now_ms":      time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
