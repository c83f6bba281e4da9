// Package compose turns a milestone label into notification text.
//
// A remote Generator personalizes the text; when it is missing, slow, failing
// or returns nothing usable the Composer falls back to a fixed template.
// Compose never fails and never returns an empty string.
package compose
