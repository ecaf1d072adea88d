// Package filter translates AIP-160 filter expressions into SQL conditions
// over the audit event table.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
)

// declarations lists the queryable audit event fields.
func declarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("action", filtering.TypeString),
		filtering.DeclareIdent("actor_id", filtering.TypeString),
		filtering.DeclareIdent("resource_type", filtering.TypeString),
		filtering.DeclareIdent("resource_id", filtering.TypeString),
		filtering.DeclareIdent("severity", filtering.TypeString),
		filtering.DeclareIdent("category", filtering.TypeString),
		filtering.DeclareIdent("success", filtering.TypeBool),
		filtering.DeclareIdent("ts", filtering.TypeTimestamp),
	)
}

// columnByField maps filter fields to audit table columns.
var columnByField = map[string]string{
	"action":        "action",
	"actor_id":      "actor_id",
	"resource_type": "resource_type",
	"resource_id":   "resource_id",
	"severity":      "severity",
	"category":      "category",
	"success":       "success",
	"ts":            "created_at",
}

// Condition is one SQL WHERE fragment with positional parameters.
type Condition struct {
	Clause string
	Params []any
}

// Parse compiles an AIP-160 expression to a Condition. An empty expression
// yields an empty condition. Errors carry CodeAuditInvalidFilter so callers
// surface them as invalid-argument failures.
func Parse(expression string) (Condition, error) {
	if strings.TrimSpace(expression) == "" {
		return Condition{}, nil
	}
	decls, err := declarations()
	if err != nil {
		return Condition{}, apperrors.Wrap(apperrors.CodeUnknown, "build filter declarations", err)
	}
	parsed, err := filtering.ParseFilterString(expression, decls)
	if err != nil {
		return Condition{}, apperrors.Wrap(apperrors.CodeAuditInvalidFilter, "parse filter expression", err)
	}
	condition, err := translate(parsed.CheckedExpr.Expr)
	if err != nil {
		return Condition{}, apperrors.Wrap(apperrors.CodeAuditInvalidFilter, "translate filter expression", err)
	}
	return condition, nil
}

func translate(e *expr.Expr) (Condition, error) {
	if e == nil {
		return Condition{}, nil
	}
	call, ok := e.ExprKind.(*expr.Expr_CallExpr)
	if !ok {
		return Condition{}, fmt.Errorf("unsupported expression: %T", e.ExprKind)
	}
	switch call.CallExpr.Function {
	case "_&&_", "AND":
		return translateLogical(call.CallExpr.Args, "AND")
	case "_||_", "OR":
		return translateLogical(call.CallExpr.Args, "OR")
	case "_==_", "=":
		return translateComparison(call.CallExpr.Args, "=")
	case "_!=_", "!=":
		return translateComparison(call.CallExpr.Args, "!=")
	case "_<_", "<":
		return translateComparison(call.CallExpr.Args, "<")
	case "_<=_", "<=":
		return translateComparison(call.CallExpr.Args, "<=")
	case "_>_", ">":
		return translateComparison(call.CallExpr.Args, ">")
	case "_>=_", ">=":
		return translateComparison(call.CallExpr.Args, ">=")
	default:
		return Condition{}, fmt.Errorf("unsupported function: %s", call.CallExpr.Function)
	}
}

func translateLogical(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("%s requires two operands", op)
	}
	left, err := translate(args[0])
	if err != nil {
		return Condition{}, err
	}
	right, err := translate(args[1])
	if err != nil {
		return Condition{}, err
	}
	return Condition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, op, right.Clause),
		Params: append(left.Params, right.Params...),
	}, nil
}

func translateComparison(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("comparison requires two operands")
	}
	field, err := fieldName(args[0])
	if err != nil {
		return Condition{}, err
	}
	column, ok := columnByField[field]
	if !ok {
		return Condition{}, fmt.Errorf("unknown field: %s", field)
	}
	value, err := constantValue(args[1])
	if err != nil {
		return Condition{}, err
	}
	return Condition{
		Clause: fmt.Sprintf("%s %s ?", column, op),
		Params: []any{value},
	}, nil
}

func fieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("missing field expression")
	}
	ident, ok := e.ExprKind.(*expr.Expr_IdentExpr)
	if !ok {
		return "", fmt.Errorf("expected field identifier, got %T", e.ExprKind)
	}
	return ident.IdentExpr.Name, nil
}

func constantValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("missing value expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		switch constant := kind.ConstExpr.ConstantKind.(type) {
		case *expr.Constant_StringValue:
			return constant.StringValue, nil
		case *expr.Constant_Int64Value:
			return constant.Int64Value, nil
		case *expr.Constant_Uint64Value:
			return constant.Uint64Value, nil
		case *expr.Constant_DoubleValue:
			return constant.DoubleValue, nil
		case *expr.Constant_BoolValue:
			return constant.BoolValue, nil
		default:
			return nil, fmt.Errorf("unsupported constant: %T", constant)
		}
	case *expr.Expr_CallExpr:
		if kind.CallExpr.Function == "timestamp" && len(kind.CallExpr.Args) == 1 {
			return timestampMillis(kind.CallExpr.Args[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant value, got %T", kind)
	}
}

// timestampMillis converts timestamp("...") literals to the millisecond
// representation the audit table stores.
func timestampMillis(e *expr.Expr) (int64, error) {
	constant, ok := e.ExprKind.(*expr.Expr_ConstExpr)
	if !ok {
		return 0, fmt.Errorf("timestamp argument must be a string literal")
	}
	raw, ok := constant.ConstExpr.ConstantKind.(*expr.Constant_StringValue)
	if !ok {
		return 0, fmt.Errorf("timestamp argument must be a string literal")
	}
	parsed, err := time.Parse(time.RFC3339, raw.StringValue)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, raw.StringValue)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", raw.StringValue)
		}
	}
	return parsed.UTC().UnixMilli(), nil
}
