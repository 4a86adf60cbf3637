// Package tracking captures the attribution snapshot forwarded with every CRM
// submission and carries delivery outcome events from bridges to Postgres
// through SQS.
package tracking
