package policy

// BuiltinPolicies returns the policies every guard starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		identifierShapePolicy(),
		packageBoundaryPolicy(),
	}
}

// identifierShapePolicy rejects identifiers the resolver could only
// misinterpret.
func identifierShapePolicy() Policy {
	return Policy{
		Name:        "identifier-shape",
		Description: "Rejects empty, oversized and backslash-separated identifiers",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package starmod.policies.identifiers

import rego.v1

deny contains msg if {
	input.require.identifier == ""
	msg := "identifier must not be empty"
}

deny contains msg if {
	contains(input.require.identifier, "\\")
	msg := sprintf("identifier %q uses a backslash separator", [input.require.identifier])
}

deny contains msg if {
	count(input.require.identifier) > 1024
	msg := "identifier is longer than 1024 characters"
}
`,
	}
}

// packageBoundaryPolicy keeps modules from reaching into another package's
// node_modules tree by path. Sub-packages are required by name.
func packageBoundaryPolicy() Policy {
	return Policy{
		Name:        "package-boundaries",
		Description: "Rejects identifiers that address node_modules directories directly",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package starmod.policies.boundaries

import rego.v1

deny contains violation if {
	some segment in split(input.require.identifier, "/")
	segment == "node_modules"
	violation := {
		"message": sprintf("identifier %q addresses node_modules directly; require the package by name", [input.require.identifier]),
		"severity": "error",
	}
}
`,
	}
}
