// Package policy vets corrective actions with Open Policy Agent (OPA) Rego policies.
//
// Every policy is a Rego module whose deny set lists violations. A violation is
// either a string or an object with "message" and "severity" keys. Violations of
// severity error or critical deny the action; warnings are only logged.
//
// Policies see one action at a time:
//
//	{
//	  "action":   {"kind": "remove_member", "entity": "alice", "target": "proj1", "destructive": true},
//	  "settings": {"protected_groups": ["admins"], "max_quota_gb": 20000},
//	  "context":  {"timestamp": "2024-05-01T12:00:00Z"}
//	}
//
// # Built-in Policies
//
//   - protected-groups: never remove members from settings.protected_groups
//   - quota-ceiling: never set a quota above settings.max_quota_gb
//   - removal-audit: warn on every membership removal
//
// Site policies are loaded from .rego and .json files. Engine.Watch reloads them
// when a file changes; a reload that does not compile keeps the previous set.
package policy
