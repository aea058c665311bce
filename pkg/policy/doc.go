// Package policy guards lifecycle steps with Open Policy Agent (Rego) policies.
//
// Every step is evaluated before its driver runs. The input document is:
//
//	{
//	  "lifecycle": "deploy",
//	  "env": "prod",
//	  "step": {"uses": "sftp/upload", "name": "upload", "with": {...}}
//	}
//
// A policy is any Rego module defining a "deny" set in its package. Entries
// are either a message string or an object with "message" and "severity".
// Entries with severity "error" or "critical" block the step with a
// PolicyViolationError; other entries are logged as warnings.
//
//	package project.policies.deploy
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.lifecycle == "deploy"
//	    input.env == "prod"
//	    input.step.uses == "script/run"
//	    violation := {"message": "scripts may not deploy to prod", "severity": "error"}
//	}
//
// Project policies are read from .fx/policies (*.rego, or *.json holding a
// Policy). Rego files default to severity "error". Built-in policies block
// "rm -rf /" in scripts and flag uploads that skip host key verification.
package policy
