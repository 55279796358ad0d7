// Package directory provides the LDAP adapter for allocsync.
// Groups are posixGroup entries named cn=<group>,<group base>; membership is the
// multi-valued memberUid attribute. A connection or bind failure at Open is fatal.
package directory
