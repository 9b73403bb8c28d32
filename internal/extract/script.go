package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// errScriptTimeout interrupts evaluation that outlives the script timeout.
var errScriptTimeout = errors.New("script evaluation timed out")

// robustItems parses script as ECMAScript, evaluates the right-hand side of
// every top-level assignment and walks the item list under dataVariable.
// Evaluation is interrupted when ctx ends or timeout elapses.
func robustItems(ctx context.Context, script, dataVariable string, timeout time.Duration) ([]any, error) {
	vars, err := scriptAssignments(ctx, script, timeout)
	if err != nil {
		return nil, err
	}
	data, ok := vars[dataVariable]
	if !ok {
		return nil, fmt.Errorf("%s not assigned", dataVariable)
	}
	// The assigned object wraps the blob the fast path decodes under "data".
	path := append([]any{"data"}, itemListPath...)
	return itemsAt(data, path)
}

// scriptAssignments maps dotted assignment targets (a.b.c = ...) and var
// declarations to their evaluated values. Right-hand sides that fail to
// evaluate are skipped; an interrupted evaluation aborts the whole script.
func scriptAssignments(ctx context.Context, script string, timeout time.Duration) (map[string]any, error) {
	program, err := parser.ParseFile(nil, "", script, 0)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	stopCtx := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stopCtx()
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() { vm.Interrupt(errScriptTimeout) })
		defer timer.Stop()
	}

	vars := make(map[string]any)
	assign := func(name string, start int, rhs ast.Expression) error {
		if name == "" || rhs == nil {
			return nil
		}
		value, err := evaluate(vm, script, start, rhs)
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return cause
			}
			return err
		}
		if err == nil {
			vars[name] = value
		}
		return nil
	}

	for _, stmt := range program.Body {
		switch s := stmt.(type) {
		case *ast.ExpressionStatement:
			if expr, ok := s.Expression.(*ast.AssignExpression); ok && expr.Operator == token.ASSIGN {
				if err := assign(dottedName(expr.Left), int(expr.Left.Idx1())-1, expr.Right); err != nil {
					return nil, err
				}
			}
		case *ast.VariableStatement:
			for _, binding := range s.List {
				if ident, ok := binding.Target.(*ast.Identifier); ok {
					if err := assign(string(ident.Name), int(ident.Idx1())-1, binding.Initializer); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if len(vars) == 0 {
		return nil, errors.New("script has no evaluable assignments")
	}
	return vars, nil
}

// evaluate runs the source text of expr. The parser reports positions without
// the parentheses that wrap an expression, so the text is widened over any
// opening parens between start and expr and over the closing parens that
// balance them.
func evaluate(vm *goja.Runtime, script string, start int, expr ast.Expression) (any, error) {
	source, err := expressionSource(script, start, expr)
	if err != nil {
		return nil, err
	}
	value, err := vm.RunString("(" + source + ")")
	if err != nil {
		return nil, err
	}
	return value.Export(), nil
}

func expressionSource(script string, start int, expr ast.Expression) (string, error) {
	from, to := int(expr.Idx0())-1, int(expr.Idx1())-1
	if from < 0 || to > len(script) || from >= to || start < 0 || start > from {
		return "", errors.New("expression out of range")
	}

	opened := 0
	for i := from - 1; i >= start; i-- {
		r := rune(script[i])
		if r == '(' {
			opened++
			from = i
			continue
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if opened == 0 {
		return script[from:to], nil
	}

	// Closing paren offsets after the expression, nearest first.
	var closers []int
	for i := to; i < len(script) && len(closers) < opened; i++ {
		r := rune(script[i])
		if r == ')' {
			closers = append(closers, i+1)
			continue
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	ends := append([]int{to}, closers...)
	for _, end := range ends {
		candidate := script[from:end]
		if _, err := parser.ParseFile(nil, "", "("+candidate+")", 0); err == nil {
			return candidate, nil
		}
	}
	return "", errors.New("unbalanced parentheses around expression")
}

// dottedName renders identifier and member chains such as window.a["b"].c.
func dottedName(expr ast.Expression) string {
	switch e := expr.(type) {
	case *ast.Identifier:
		return string(e.Name)
	case *ast.DotExpression:
		left := dottedName(e.Left)
		if left == "" {
			return ""
		}
		return left + "." + string(e.Identifier.Name)
	case *ast.BracketExpression:
		left := dottedName(e.Left)
		member, ok := e.Member.(*ast.StringLiteral)
		if left == "" || !ok {
			return ""
		}
		return left + "." + strings.TrimSpace(string(member.Value))
	}
	return ""
}
