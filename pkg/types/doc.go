// Package types provides the values shared by every massindex component.
//
// EntityReference names a record of the system of record (type name plus
// identifier) and is what failure reports point at. RunState and StageState
// describe the lifecycle of a mass indexing run and of its producer and
// consumer stages:
//
//	INIT -> PREPARING -> INDEXING -> FINALIZING -> COMPLETED | FAILED | CANCELLED
//	CREATED -> RUNNING -> COMPLETED | FAILED | CANCELLED -> STOPPED
//
// The sentinel errors are matched with errors.Is by the HTTP and MCP surfaces
// to choose a status code:
//
//	if errors.Is(err, types.ErrRunInProgress) {
//	    // reject the second run
//	}
package types
