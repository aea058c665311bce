package policy

// Builtins returns the policies shipped with fxctl, enabled.
func Builtins() []Policy {
	out := make([]Policy, len(builtins))
	for i, b := range builtins {
		out[i] = Policy{
			Name:        b.name,
			Description: b.description,
			Severity:    b.severity,
			Rego:        b.rego,
			Enabled:     true,
			Builtin:     true,
		}
	}
	return out
}

var builtins = []struct {
	name        string
	description string
	severity    Severity
	rego        string
}{
	{
		name:        "no-destructive-scripts",
		description: "Blocks script/run steps that run rm -rf against the filesystem root",
		severity:    SeverityError,
		rego: `package fxctl.builtin.scripts

import rego.v1

root_delete := "rm\\s+-(rf|fr|r\\s+-f|f\\s+-r)\\s+/(\\s|\\*|;|&|$)"

deny contains {"message": msg, "severity": "error"} if {
	input.step.uses == "script/run"
	regex.match(root_delete, input.step["with"].run)
	msg := sprintf("step %s deletes the filesystem root", [label])
}

label := object.get(input.step, "name", input.step.uses)
`,
	},
	{
		name:        "sftp-host-key",
		description: "Warns when sftp/upload skips host key checks and blocks it for production",
		severity:    SeverityWarning,
		rego: `package fxctl.builtin.sftp

import rego.v1

production := {"prod", "production"}

label := object.get(input.step, "name", input.step.uses)

insecure if {
	input.step.uses == "sftp/upload"
	input.step["with"].insecureIgnoreHostKey == true
}

deny contains {"message": msg, "severity": "warning"} if {
	insecure
	not production[input.env]
	msg := sprintf("step %s does not verify the host key of %s", [label, input.step["with"].host])
}

deny contains {"message": msg, "severity": "error"} if {
	insecure
	production[input.env]
	msg := sprintf("step %s must verify the host key when deploying to %s", [label, input.env])
}
`,
	},
	{
		name:        "wasm-timeout",
		description: "Warns when a wasm/run step has no timeout",
		severity:    SeverityWarning,
		rego: `package fxctl.builtin.wasm

import rego.v1

deny contains msg if {
	input.step.uses == "wasm/run"
	not input.step["with"].timeout
	msg := sprintf("step %s runs a plugin without a timeout", [object.get(input.step, "name", input.step.uses)])
}
`,
	},
}
