// Package config provides runtime configuration, CUE schema validation and
// Starlark evaluation for fxctl.
//
// # Overview
//
// Three kinds of configuration meet here. The runtime configuration of the
// process comes from FX_* environment variables. The lifecycle file of a
// project (fxapp.yml) and its settings document are YAML checked against
// built-in CUE schemas. Question conditions and lifecycle step guards are
// Starlark expressions.
//
// # Components
//
// Runtime: FX_* variables read with envconfig and checked with validator.
// Runtime.Telemetry derives the telemetry configuration.
//
// SchemaRegistry: Compiles CUE schemas and validates values against a named
// definition. Built-in schemas cover lifecycle files, steps and settings.
//
// CUEParser: Validates YAML documents against the registry and reports
// errors with file, line and column.
//
// StarlarkEvaluator: Evaluates condition expressions with a timeout and
// context cancellation. CheckExpr reports syntax errors ahead of a run.
//
// # Usage Example
//
//	rt, err := config.LoadRuntime()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	parser := config.NewCUEParser()
//	verrs, err := parser.ValidateYAML(ctx, "fxapp.yml", data, config.SchemaLifecycleFile)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, ve := range verrs {
//	    fmt.Println(ve)
//	}
//
//	eval := config.NewStarlarkEvaluator(time.Second)
//	ok, err := eval.EvalBool(ctx, `inputs.get("confirm") == "yes"`, vars)
//
// # Starlark
//
// Expressions see the variables passed by the caller and the Starlark
// universe (len, enumerate, zip, ...). Lists and dicts are frozen, so a
// condition cannot modify its inputs. print() is discarded.
package config
