// Package policy guards module requires with Open Policy Agent (OPA) Rego
// policies.
//
// A Guard implements loader.Guard. Before the loader resolves an
// identifier it evaluates the deny set of every enabled policy against
// this input document:
//
//	{
//	  "require": {
//	    "identifier": "greeter",
//	    "from_module": "/app/main",
//	    "from_package": "/srv/modules",
//	    "from_origin": "file:///srv/modules/app/main.star",
//	    "system": false
//	  },
//	  "context": {"timestamp": "...", "operation": "require", "metadata": {...}}
//	}
//
// Deny elements are either message strings or objects with message and
// severity fields. Violations of severity "error" block the require with a
// *DeniedError; lower severities are logged.
//
// # Usage
//
//	guard, err := policy.NewGuard(ctx, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := guard.LoadPolicies(ctx, []string{"/etc/starmod/policies"}); err != nil {
//	    log.Fatal(err)
//	}
//	l, err := loader.New(roots, files, db, sb, loader.WithGuard(guard))
//
// A custom policy:
//
//	package starmod.policies.vendor
//
//	import rego.v1
//
//	deny contains msg if {
//	    not input.require.system
//	    startswith(input.require.identifier, "vendor/")
//	    msg := "vendor modules are reserved for system code"
//	}
//
// # Built-in Policies
//
// identifier-shape rejects empty, oversized and backslash-separated
// identifiers. package-boundaries rejects identifiers that name a
// node_modules directory instead of requiring the package by name.
//
// # Reloading
//
// Watch reloads the policy files given to LoadPolicies when they change,
// using fsnotify.
package policy
