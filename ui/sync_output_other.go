//go:build !windows

package ui

// supportsSyncOutput gates the synchronized output sequence (?2026). Most
// non-Windows terminals accept it.
const supportsSyncOutput = true
