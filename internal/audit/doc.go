// Package audit records account and ownership actions in SQLite.
//
// Handlers record an Entry after a login, profile update, provisioning,
// claim or release succeeds. Admins page through entries with List.
package audit
