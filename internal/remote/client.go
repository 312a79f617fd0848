// Package remote is the device side of the sync API: job fetch and one
// call per queued operation, carried over the gRPC connection the network
// monitor probes.
package remote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/dmitrijs2005/fieldsync/internal/auth"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/services"
)

const service = "/fieldsync.v1.FieldSync/"

const (
	MethodGetMyJobs           = service + "GetMyJobs"
	MethodStartJob            = service + "StartJob"
	MethodUpdateChecklist     = service + "UpdateChecklist"
	MethodCompleteJob         = service + "CompleteJob"
	MethodRegisterPhoto       = service + "RegisterPhoto"
	MethodSendJobNote         = service + "SendJobNote"
	MethodSendCoworkerMessage = service + "SendCoworkerMessage"
)

// PhotoUploader stores a photo file and returns its object key.
type PhotoUploader interface {
	Upload(ctx context.Context, p *models.Photo) (string, error)
}

var (
	_ services.JobFetcher = (*Client)(nil)
	_ services.SyncClient = (*Client)(nil)
)

type Client struct {
	conn    grpc.ClientConnInterface
	photos  PhotoUploader
	timeout time.Duration
}

// New returns a client over conn. Calls without a deadline get timeout.
func New(conn grpc.ClientConnInterface, photos PhotoUploader, timeout time.Duration) *Client {
	return &Client{conn: conn, photos: photos, timeout: timeout}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if resp == nil {
		resp = &struct{}{}
	}

	var trailer metadata.MD
	err := c.conn.Invoke(ctx, method, req, resp, grpc.ForceCodec(jsonCodec{}), grpc.Trailer(&trailer))
	return mapError(method, err, trailer)
}

type getMyJobsRequest struct {
	Upcoming bool `json:"upcoming"`
}

type getMyJobsResponse struct {
	Jobs []services.RemoteJob `json:"jobs"`
}

func (c *Client) GetMyJobs(ctx context.Context, token string, opts services.FetchOptions) ([]services.RemoteJob, error) {
	if token != "" {
		ctx = auth.WithAccessToken(ctx, token)
	}
	var resp getMyJobsResponse
	if err := c.invoke(ctx, MethodGetMyJobs, getMyJobsRequest{Upcoming: opts.Upcoming}, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) StartJob(ctx context.Context, p models.StartPayload) error {
	return c.invoke(ctx, MethodStartJob, p, nil)
}

func (c *Client) UpdateChecklist(ctx context.Context, p models.ChecklistPayload) error {
	return c.invoke(ctx, MethodUpdateChecklist, p, nil)
}

func (c *Client) CompleteJob(ctx context.Context, p models.CompletePayload) error {
	return c.invoke(ctx, MethodCompleteJob, p, nil)
}

type photoRequest struct {
	PhotoID       string           `json:"photoId"`
	JobID         int64            `json:"jobId"`
	PhotoType     models.PhotoType `json:"photoType"`
	Room          string           `json:"room"`
	NotApplicable bool             `json:"isNotApplicable"`
	ObjectKey     string           `json:"objectKey,omitempty"`
	Watermark     models.Watermark `json:"watermark"`
}

// UploadPhoto stores the file, if the photo has one, and registers the
// photo with the server. Passes marked N/A are registered without a file.
func (c *Client) UploadPhoto(ctx context.Context, p *models.Photo) error {
	req := photoRequest{
		PhotoID:       p.ID,
		JobID:         p.JobID,
		PhotoType:     p.PhotoType,
		Room:          p.Room,
		NotApplicable: p.IsNotApplicable,
		Watermark:     p.Watermark,
	}

	if p.HasFile() {
		if c.photos == nil {
			return fmt.Errorf("upload photo %s: no photo store configured: %w", p.ID, common.ErrInvalidState)
		}
		key, err := c.photos.Upload(ctx, p)
		if err != nil {
			return err
		}
		req.ObjectKey = key
	}
	return c.invoke(ctx, MethodRegisterPhoto, req, nil)
}

type messageRequest struct {
	ID          string             `json:"id"`
	JobID       int64              `json:"jobId"`
	Type        models.MessageType `json:"messageType"`
	RecipientID string             `json:"recipientId,omitempty"`
	Content     string             `json:"content"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func newMessageRequest(jobID int64, m *models.Message) messageRequest {
	return messageRequest{
		ID:          m.ID,
		JobID:       jobID,
		Type:        m.MessageType,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
	}
}

func (c *Client) SendJobNote(ctx context.Context, jobID int64, m *models.Message) error {
	return c.invoke(ctx, MethodSendJobNote, newMessageRequest(jobID, m), nil)
}

func (c *Client) SendCoworkerMessage(ctx context.Context, jobID int64, m *models.Message) error {
	return c.invoke(ctx, MethodSendCoworkerMessage, newMessageRequest(jobID, m), nil)
}
