package domain

import "errors"

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyGenerating   = errors.New("model already generating")
	ErrAlreadyGenerated    = errors.New("model already exists")
	ErrDoodleNotFound      = errors.New("doodle not found")
	ErrNoImage             = errors.New("doodle has no image")
	ErrInvalidPrompt       = errors.New("invalid prompt")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInvalidSignature    = errors.New("webhook signature verification failed")
	ErrUnknownPrice        = errors.New("invalid price id")
	ErrInvalidPagination   = errors.New("invalid pagination")
)
