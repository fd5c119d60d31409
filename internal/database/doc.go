// Package database persists the audit trail to PostgreSQL.
//
// The database is optional. When enabled, every audit notification is also
// written to the audit_log table alongside delivery to the audit channel.
package database
