// Package debian models the binary package control manifest (DEBIAN/control).
//
// Only the fields the Casal2 package carries are modelled. Format emits them
// in a fixed order; Parse reads them back and rejects unknown or missing fields.
package debian
