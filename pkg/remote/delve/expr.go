package delve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/willibrandon/coroscope/pkg/remote"
)

// splitQualified splits "github.com/a/b.T" into "github.com/a/b" and "T".
// Names without a package return an empty package.
func splitQualified(name string) (pkg, local string) {
	start := strings.LastIndex(name, "/") + 1
	dot := strings.Index(name[start:], ".")
	if dot < 0 {
		return "", name
	}
	return name[:start+dot], name[start+dot+1:]
}

// qualify renders a package-qualified name for the expression evaluator,
// which needs import paths with slashes or dots quoted.
func qualify(name string) string {
	pkg, local := splitQualified(name)
	if pkg == "" {
		return local
	}
	if strings.ContainsAny(pkg, "/.") {
		return strconv.Quote(pkg) + "." + local
	}
	return pkg + "." + local
}

// objectExpr converts an address back into a typed pointer expression.
func objectExpr(typ string, h remote.Handle) string {
	return fmt.Sprintf("(*%s)(%#x)", qualify(typ), uint64(h))
}

// valueExpr renders an argument of a call expression.
func valueExpr(v remote.Value) (string, error) {
	switch v.Kind {
	case remote.KindNull:
		return "nil", nil
	case remote.KindObject:
		return objectExpr(v.Type, v.Handle), nil
	case remote.KindString:
		return strconv.Quote(v.Str), nil
	case remote.KindInt:
		return strconv.FormatInt(v.Int, 10), nil
	case remote.KindBool:
		return strconv.FormatBool(v.Bool), nil
	default:
		return "", fmt.Errorf("cannot pass %s argument: %w", v.Kind, remote.ErrUnsupported)
	}
}

func argsExpr(args []remote.Value) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := valueExpr(a)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}

// splitFunction maps a Go symbol to the owner and name of a remote.Method.
// Methods are owned by their receiver type, functions and closures by their
// package:
//
//	github.com/a/b.(*T).M    -> github.com/a/b.T, M
//	github.com/a/b.T.M       -> github.com/a/b.T, M
//	main.run.func1           -> main, run.func1
func splitFunction(symbol string) (owner, name string) {
	symbol = strings.TrimSuffix(symbol, "-fm")
	pkg, rest := splitQualified(symbol)
	if pkg == "" {
		return "", symbol
	}
	if strings.HasPrefix(rest, "(*") {
		if end := strings.Index(rest, ")."); end > 0 {
			return pkg + "." + rest[2:end], rest[end+2:]
		}
	}
	if recv, method, ok := strings.Cut(rest, "."); ok && !strings.HasPrefix(method, "func") {
		return pkg + "." + recv, method
	}
	return pkg, rest
}

// shortName returns the unqualified name of a type, which is also the field
// name of an embedded struct of that type.
func shortName(typ string) string {
	typ = strings.TrimPrefix(typ, "*")
	_, local := splitQualified(typ)
	return local
}
