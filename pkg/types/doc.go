// Package types defines the Container contract that committed datatypes and
// copied subtrees are stored through, the object header records containers
// persist, configuration, and the structured errors shared by every typevault
// package.
package types
