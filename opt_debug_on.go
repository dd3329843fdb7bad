//go:build treebin_debug

package treebin

// debug enables a full Verify pass after every structural mutation.
const debug = true
