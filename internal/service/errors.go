package service

import (
	"errors"

	"github.com/cortexmem/cortex/internal/store"
)

// Lifecycle error taxonomy. Handlers map these to HTTP codes with errors.Is.
// ErrNotFound aliases the store sentinel so a miss surfaces the same way at
// every layer.
var (
	ErrNotFound          = store.ErrNotFound
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrUnknownSector     = errors.New("unknown sector")
	ErrClusterTooSmall   = errors.New("cluster below minimum size for summary")
	ErrLLMNotConfigured  = errors.New("llm client not configured")
	ErrLLMGeneration     = errors.New("llm generation failed")
	ErrNoMemoryContents  = errors.New("no memory contents found for cluster")
	ErrCentroidNotFound  = errors.New("cluster centroid memory not found")
	ErrNotFoundInArchive = errors.New("memory not found in archive")
	ErrJobInProgress     = errors.New("consolidation job already in progress")
	ErrMaxRetries        = errors.New("max retry attempts exceeded")
	ErrLoadThreshold     = errors.New("system load above threshold")
)
