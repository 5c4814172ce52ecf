package main

import (
	"errors"
	"fmt"
	"strings"
)

type usageError struct {
	error
}

func newUsageError(msg string) usageError {
	return usageError{error: errors.New(msg)}
}

func checkArgs(args []string, names ...string) error {
	if len(args) != len(names) {
		return newUsageError(fmt.Sprintf("expected %d argument(s): %s", len(names), strings.Join(names, " ")))
	}
	return nil
}

var errorWantedNoArgs = newUsageError("expected no (non-flag) arguments")
