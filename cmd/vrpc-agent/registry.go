package main

import (
	"github.com/vrpc-go/vrpc/adapter"
)

// echo is the sample class shipped with vrpc-agent: a single instance type
// with one method, useful for spec.md §8's round-trip testable property
// ("remote.echo(v) returns v unchanged") and for smoke-testing a fresh
// broker deployment.
type echo struct{}

func (e *echo) Echo(value any) any { return value }

// buildRegistry wires the classes this binary hosts. Real deployments
// would register their own domain classes here instead.
func buildRegistry() adapter.Registry {
	r := adapter.NewReflectRegistry()
	r.RegisterClass("Echo", &echo{}, func(args []adapter.Arg) (any, error) {
		return &echo{}, nil
	}, nil)
	return r
}
