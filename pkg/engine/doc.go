// Package engine holds the building blocks shared by every fxctl component.
//
// # Errors
//
// Every operation reports failures as an *FxError. An FxError is classified
// as a user error (the user can fix it: a missing input, a malformed
// lifecycle file, a held lock) or a system error (an unexpected failure).
// Each error carries the component that raised it and a stable name:
//
//	err := engine.NewUserError("lifecycle", engine.NameInvalidLifecycle, "unknown key").
//	    WithDetail("file", "fxapp.yml")
//
// Errors crossing a component boundary go through Normalize, which turns
// foreign errors into UnhandledError system errors, context cancellation
// into UserCancelError, and fills in the source and help or issue links:
//
//	fe := engine.Normalize(err, engine.Defaults{Source: engine.SourceCore})
//	if engine.IsUserError(fe) {
//	    fmt.Println(fe.UserMessage(), fe.HelpLink)
//	}
//
// # Task Groups
//
// TaskGroup runs a list of tasks one after another or all at once, with
// optional fast-fail and progress reporting. Lifecycle steps run as a
// sequential, fast-failing, cancelable group:
//
//	group := engine.NewTaskGroup(tasks, engine.TaskGroupOptions{
//	    Names:      names,
//	    FastFail:   true,
//	    Cancelable: true,
//	    OnProgress: func(u engine.ProgressUpdate) { bar.Next(u.Name) },
//	})
//	outcomes, err := group.Run(ctx)
//
// In concurrent mode a fast-fail resolves the group with the first error
// while the remaining tasks keep running; their results are discarded.
//
// # Telemetry
//
// TelemetryReporter is the sink for named events with string properties and
// numeric measures. The Prop* and Measure* constants are the keys shared by
// the action middleware, the lock guard and the history store.
package engine
