package coordinator

import (
	"context"
	"fmt"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Command is one coordinator request. The variants are InitCommand,
// GetPartURLsCommand, CompleteCommand, AbortCommand and StatusCommand.
type Command interface {
	command()
}

// InitCommand starts a new upload session.
type InitCommand struct {
	OwnerID     string `json:"-"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

// GetPartURLsCommand requests presigned URLs for parts 1..PartCount.
type GetPartURLsCommand struct {
	OwnerID   string `json:"-"`
	SessionID string `json:"-"`
	PartCount int    `json:"partCount"`
}

// CompleteCommand assembles the uploaded parts into the final object.
type CompleteCommand struct {
	OwnerID   string             `json:"-"`
	SessionID string             `json:"-"`
	Parts     []uploadtypes.Part `json:"parts"`
}

// AbortCommand cancels a session and its storage-side upload.
type AbortCommand struct {
	OwnerID   string `json:"-"`
	SessionID string `json:"-"`
}

// StatusCommand reads a session.
type StatusCommand struct {
	OwnerID   string `json:"-"`
	SessionID string `json:"-"`
}

func (InitCommand) command()        {}
func (GetPartURLsCommand) command() {}
func (CompleteCommand) command()    {}
func (AbortCommand) command()       {}
func (StatusCommand) command()      {}

// Dispatch runs cmd and returns its typed result:
//
//	InitCommand        *uploadtypes.InitResult
//	GetPartURLsCommand []uploadtypes.PartURL
//	CompleteCommand    *uploadtypes.CompleteResult
//	AbortCommand       *uploadtypes.Session
//	StatusCommand      *uploadtypes.Session
func (c *Coordinator) Dispatch(ctx context.Context, cmd Command) (any, error) {
	switch cmd := cmd.(type) {
	case InitCommand:
		return c.Init(ctx, cmd)
	case GetPartURLsCommand:
		return c.GetPartURLs(ctx, cmd)
	case CompleteCommand:
		return c.Complete(ctx, cmd)
	case AbortCommand:
		return c.Abort(ctx, cmd)
	case StatusCommand:
		return c.Status(ctx, cmd)
	default:
		return nil, errors.NewError("dispatch", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("unknown command %T", cmd))
	}
}
