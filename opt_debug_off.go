//go:build !treebin_debug

package treebin

// debug enables a full Verify pass after every structural mutation.
// Build with -tags treebin_debug to turn it on.
const debug = false
