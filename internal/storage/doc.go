// Package storage is a line-oriented record store. Each record kind
// (userinfo, subsinfo) is an ordered list of CSV records; field 0 is the key
// and lines are addressed by 1-based number.
//
// Mutations are serialized per kind. RewriteLine is delete-then-append, so a
// rewritten record moves to the end.
package storage
