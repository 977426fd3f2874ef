// Package apperr holds the sentinel errors shared across notetaker packages.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidTitle = errors.New("invalid title")
	ErrTitleTaken   = errors.New("title already in use")
	ErrIDExhaustion = errors.New("no free note id")
	ErrSaveFailed   = errors.New("save failed")
)
