package client

import (
	"context"

	"github.com/input-output-hk/catalyst-forge-libs/upload/coordinator"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Coordinator is the session authority as seen by one caller.
type Coordinator interface {
	Init(ctx context.Context, fileName string, fileSize int64, contentType string) (*uploadtypes.InitResult, error)
	GetPartURLs(ctx context.Context, sessionID string, partCount int) ([]uploadtypes.PartURL, error)
	Complete(ctx context.Context, sessionID string, parts []uploadtypes.Part) (*uploadtypes.CompleteResult, error)
	Abort(ctx context.Context, sessionID string) (*uploadtypes.Session, error)
	Status(ctx context.Context, sessionID string) (*uploadtypes.Session, error)
}

// local calls an in-process coordinator on behalf of one owner.
type local struct {
	c     *coordinator.Coordinator
	owner string
}

// Local adapts an in-process coordinator.Coordinator for ownerID.
func Local(c *coordinator.Coordinator, ownerID string) Coordinator {
	return &local{c: c, owner: ownerID}
}

func (l *local) Init(ctx context.Context, fileName string, fileSize int64, contentType string) (*uploadtypes.InitResult, error) {
	return l.c.Init(ctx, coordinator.InitCommand{
		OwnerID:     l.owner,
		FileName:    fileName,
		FileSize:    fileSize,
		ContentType: contentType,
	})
}

func (l *local) GetPartURLs(ctx context.Context, sessionID string, partCount int) ([]uploadtypes.PartURL, error) {
	return l.c.GetPartURLs(ctx, coordinator.GetPartURLsCommand{
		OwnerID:   l.owner,
		SessionID: sessionID,
		PartCount: partCount,
	})
}

func (l *local) Complete(ctx context.Context, sessionID string, parts []uploadtypes.Part) (*uploadtypes.CompleteResult, error) {
	return l.c.Complete(ctx, coordinator.CompleteCommand{
		OwnerID:   l.owner,
		SessionID: sessionID,
		Parts:     parts,
	})
}

func (l *local) Abort(ctx context.Context, sessionID string) (*uploadtypes.Session, error) {
	return l.c.Abort(ctx, coordinator.AbortCommand{OwnerID: l.owner, SessionID: sessionID})
}

func (l *local) Status(ctx context.Context, sessionID string) (*uploadtypes.Session, error) {
	return l.c.Status(ctx, coordinator.StatusCommand{OwnerID: l.owner, SessionID: sessionID})
}
