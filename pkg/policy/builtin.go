package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectedGroupsPolicy(),
		quotaCeilingPolicy(),
		removalAuditPolicy(),
	}
}

// protectedGroupsPolicy refuses to remove members from configured groups.
func protectedGroupsPolicy() Policy {
	return Policy{
		Name:        "protected-groups",
		Description: "Never removes members from the groups listed in settings.protected_groups",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package allocsync.policies.protected_groups

import rego.v1

deny contains violation if {
	input.action.kind == "remove_member"
	some group in input.settings.protected_groups
	input.action.target == group
	violation := {
		"message": sprintf("group %s is protected, not removing %s", [group, input.action.entity]),
		"severity": "error",
	}
}`,
	}
}

// quotaCeilingPolicy refuses quotas above the configured maximum.
func quotaCeilingPolicy() Policy {
	return Policy{
		Name:        "quota-ceiling",
		Description: "Never sets a quota above settings.max_quota_gb",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package allocsync.policies.quota_ceiling

import rego.v1

deny contains violation if {
	input.action.kind == "set_quota"
	input.settings.max_quota_gb > 0
	quota := to_number(input.action.value)
	quota > input.settings.max_quota_gb
	violation := {
		"message": sprintf("quota %v GB for %s exceeds the ceiling of %v GB", [quota, input.action.target, input.settings.max_quota_gb]),
		"severity": "error",
	}
}`,
	}
}

// removalAuditPolicy reports every membership removal as a warning.
func removalAuditPolicy() Policy {
	return Policy{
		Name:        "removal-audit",
		Description: "Reports every membership removal",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package allocsync.policies.removal_audit

import rego.v1

deny contains violation if {
	input.action.destructive
	violation := {
		"message": sprintf("removing %s from %s", [input.action.entity, input.action.target]),
		"severity": "warning",
	}
}`,
	}
}
