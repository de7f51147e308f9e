package models

import "errors"

// pipeline 的錯誤分類，呼叫端以 errors.Is 判斷
var (
	ErrJobTimeout          = errors.New("extraction job timed out")
	ErrJobExecution        = errors.New("extraction job failed")
	ErrStorageWrite        = errors.New("storage write failed")
	ErrAggregationConflict = errors.New("unexpected job result shape")
	ErrUpstreamMissing     = errors.New("video has no download record")
)
