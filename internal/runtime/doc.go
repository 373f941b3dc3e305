// Package runtime builds the object graph shared by the distsync commands:
// configuration, logger, relation store, forges, sync engine and handlers.
package runtime
