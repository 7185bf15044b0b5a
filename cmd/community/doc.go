// Package community manages roles, communities and their memberships.
//
// Every row gets its primary key from an ids.Source when it is created, so
// listing by id is listing by creation time. Permission rules (who may add or
// remove members) live in Service; stores only persist.
package community
