// Package audit records operator actions taken through the bridge API.
//
// Every command, refresh and cache reset is written to the audit_logs
// table with the token subject that issued it and its outcome, so a show
// operator can answer "who blacked out the stage at 21:04".
package audit
