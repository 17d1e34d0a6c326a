// Package loadmatrix runs an example entry point across a matrix of module
// loaders and JavaScript runtimes and reports which combinations work.
package loadmatrix

// Version is the loadmatrix release version.
const Version = "0.3.0"
