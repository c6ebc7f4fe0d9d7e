package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNoChange    = errors.New("no change")
	ErrValidation  = errors.New("validation failed")
	ErrConsistency = errors.New("consistency check failed")
	ErrConcurrency = errors.New("database busy")
)

type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultNotFound
	ResultNoChange
	ResultError
)

// OpResult is what every public store operation returns. The core never
// prints; callers format Message however their surface requires.
type OpResult struct {
	Kind    ResultKind
	Message string
}

func Success(format string, args ...any) OpResult {
	return OpResult{Kind: ResultSuccess, Message: fmt.Sprintf(format, args...)}
}

func NotFound(id string) OpResult {
	return OpResult{Kind: ResultNotFound, Message: fmt.Sprintf("task %q not found", id)}
}

func NoChange(format string, args ...any) OpResult {
	return OpResult{Kind: ResultNoChange, Message: fmt.Sprintf(format, args...)}
}

func Errorf(format string, args ...any) OpResult {
	return OpResult{Kind: ResultError, Message: fmt.Sprintf(format, args...)}
}

// ResultFromError maps sentinel errors onto the result kinds; anything
// unrecognized becomes a plain error result.
func ResultFromError(err error) OpResult {
	switch {
	case errors.Is(err, ErrNotFound):
		return OpResult{Kind: ResultNotFound, Message: err.Error()}
	case errors.Is(err, ErrNoChange):
		return OpResult{Kind: ResultNoChange, Message: err.Error()}
	default:
		return OpResult{Kind: ResultError, Message: err.Error()}
	}
}
