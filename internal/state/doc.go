// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/voxchat/internal/types"

// Compile-time interface compliance checks.
var _ types.DialogStore = (*DialogStore)(nil)
var _ types.MessageStore = (*MessageStore)(nil)
var _ types.BlobStore = (*BlobStore)(nil)
