package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxOperator ctxKey = iota

func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, ctxOperator, operator)
}

func Operator(ctx context.Context) (string, error) {
	v := ctx.Value(ctxOperator)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("operator not in context")
}
