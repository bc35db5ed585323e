package domain

import "errors"

var (
	ErrChannelClosed    = errors.New("signaling channel closed")
	ErrSendBufferFull   = errors.New("signaling send buffer full")
	ErrMalformedMessage = errors.New("malformed signaling message")
	ErrMediaAcquisition = errors.New("media acquisition failed")
	ErrNotInCall        = errors.New("not in call")
	ErrCallInProgress   = errors.New("call already in progress")
	ErrJoinCancelled    = errors.New("join cancelled")
	ErrStopped          = errors.New("call service stopped")
	ErrNoVideoTrack     = errors.New("no outbound video track")
	ErrSharePending     = errors.New("screen share already starting")
)
