/*
Package session serialises inbound work per conversation.

Events from the same subscriber on the same channel must not be processed
concurrently: a second reply racing the first would see a half-updated
execution. Manager provides a per-key lock that is local by default and can
be backed by a ports.DistributedLocker when several replicas share a store.
*/
package session
