// Package config loads the allocsync configuration.
//
// A config file is YAML, TOML or CUE, chosen by extension. It is decoded on
// top of Default, so a file only names what differs. CUE files are checked
// against a built-in schema first, so typos and out-of-range values fail
// with a file position. Unknown keys are errors in every format.
//
//	ldap:
//	  url: ldaps://ldap.example.org
//	  bind_dn: cn=allocsync,ou=services,dc=example,dc=org
//	  user_base: ou=people,dc=example,dc=org
//	  group_base: ou=groups,dc=example,dc=org
//	database:
//	  path: /srv/coldfront/coldfront.db
//	quota:
//	  resource: Project Storage
//	policy:
//	  protected_groups: [admins]
//	  max_quota_gb: 20000
//
// Secrets can be kept out of the file with ALLOCSYNC_LDAP_BIND_PASSWORD and
// ALLOCSYNC_SSH_PASSWORD.
//
// The optional filter script is Starlark. It defines include(kind, name) and
// is consulted for every user and allocation before it is reconciled.
package config
